package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ai-talker/internal/domain"
	"ai-talker/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 << 10
)

var newUUID = func() string { return uuid.NewString() }

// ConversationUseCase is the application boundary the router drives.
type ConversationUseCase interface {
	Start(ctx context.Context, in usecase.StartInput) (usecase.ConversationOutput, error)
	Reply(ctx context.Context, in usecase.ReplyInput) (usecase.ConversationOutput, error)
	Get(ctx context.Context, id string) (usecase.ConversationOutput, error)
	Steps() []string
}

type Handler struct {
	uc      ConversationUseCase
	logger  *slog.Logger
	metrics http.Handler
	router  chi.Router
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetricsHandler mounts m at GET /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(uc ConversationUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(h)
	}
	h.router = h.routes()
	return h, nil
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.correlate)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, http.StatusNotFound, "NOT_FOUND", "route_not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method_not_allowed")
	})

	r.Get("/", h.root)
	r.Get("/available_steps", h.availableSteps)
	r.Post("/conversation", h.startConversation)
	r.Post("/conversation/", h.startConversation)
	r.Get("/conversation/{id}", h.getConversation)
	r.Post("/conversation/{id}/reply", h.replyConversation)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type ctxKey struct{}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// correlate echoes the caller's correlation id, or mints one.
func (h *Handler) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = newUUID()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type startRequest struct {
	Steps   []string `json:"steps"`
	OrgID   string   `json:"orgId"`
	UseCase string   `json:"useCase"`
	BotName string   `json:"botName"`
}

type replyRequest struct {
	Message string `json:"message"`
}

type conversationResponse struct {
	ConversationID string        `json:"conversationId"`
	Step           string        `json:"step"`
	Reply          string        `json:"reply,omitempty"`
	Decision       string        `json:"decision,omitempty"`
	Halted         bool          `json:"halted"`
	Transcript     []domain.Turn `json:"transcript"`
}

type stepsResponse struct {
	Steps []string `json:"steps"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the guided conversation API"})
}

func (h *Handler) availableSteps(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, stepsResponse{Steps: h.uc.Steps()})
}

func (h *Handler) startConversation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.uc.Start(r.Context(), usecase.StartInput{
		Steps: req.Steps,
		Scope: domain.Scope{OrgID: req.OrgID, UseCase: req.UseCase, BotName: req.BotName},
	})
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toResponse(out))
}

func (h *Handler) replyConversation(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.uc.Reply(r.Context(), usecase.ReplyInput{
		ConversationID: chi.URLParam(r, "id"),
		Message:        req.Message,
	})
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(out))
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	out, err := h.uc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(out))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.logger.Warn("invalid request body", "correlation_id", correlationID(r.Context()), "err", err)
		h.writeError(w, r, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body")
		return false
	}
	return true
}

func toResponse(out usecase.ConversationOutput) conversationResponse {
	transcript := out.Transcript
	if transcript == nil {
		transcript = []domain.Turn{}
	}
	return conversationResponse{
		ConversationID: out.ConversationID,
		Step:           out.Step,
		Reply:          out.Reply,
		Decision:       out.Decision,
		Halted:         out.Halted,
		Transcript:     transcript,
	}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorUnknownStep:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeUseCaseError(w http.ResponseWriter, r *http.Request, err error) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		h.logger.Error("unexpected error", "correlation_id", correlationID(r.Context()), "err", err)
		h.writeError(w, r, http.StatusInternalServerError, string(usecase.ErrorInternal), "")
		return
	}
	status := statusFor(ue.Code)
	log := h.logger.Warn
	if status >= http.StatusInternalServerError {
		log = h.logger.Error
	}
	log("request failed",
		"correlation_id", correlationID(r.Context()),
		"code", string(ue.Code),
		"reason", ue.Reason,
		"err", ue.Err,
	)
	h.writeError(w, r, status, string(ue.Code), ue.Reason)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, reason string) {
	h.writeJSON(w, status, errorResponse{Error: code, Reason: reason, CorrelationID: correlationID(r.Context())})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", "err", err)
	}
}
