package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"ai-talker/internal/dialogue"
	"ai-talker/internal/domain"
	"ai-talker/internal/fields"
	"ai-talker/internal/repository"
	"ai-talker/internal/steps"
)

const (
	defaultMaxMessageLen = 2000
	defaultMaxUserTurns  = 50

	// connectionField holds {"steps": [...]} on the tenant record.
	connectionField = "connection"
)

// SessionStore persists dialogue state between requests. Load returns
// repository.ErrNotFound for unknown ids.
type SessionStore interface {
	Load(ctx context.Context, id string) (dialogue.State, error)
	Save(ctx context.Context, id string, st dialogue.State) error
}

// Archiver receives the transcript of every dialogue that halts.
type Archiver interface {
	Archive(ctx context.Context, id string, turns []domain.Turn) (string, error)
}

type ConversationService struct {
	engine        *dialogue.Engine
	store         SessionStore
	source        fields.Source
	archiver      Archiver
	logger        *slog.Logger
	maxMessageLen int
	maxUserTurns  int
}

type StartInput struct {
	Steps []string
	Scope domain.Scope
}

type ReplyInput struct {
	ConversationID string
	Message        string
}

type ConversationOutput struct {
	ConversationID string
	Step           string
	Reply          string
	Decision       string
	Halted         bool
	Transcript     []domain.Turn
}

type ServiceOption func(*ConversationService)

func WithArchiver(a Archiver) ServiceOption {
	return func(s *ConversationService) { s.archiver = a }
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *ConversationService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLimits caps message length in bytes and user turns per conversation.
// Non-positive values keep the defaults.
func WithLimits(maxMessageLen, maxUserTurns int) ServiceOption {
	return func(s *ConversationService) {
		if maxMessageLen > 0 {
			s.maxMessageLen = maxMessageLen
		}
		if maxUserTurns > 0 {
			s.maxUserTurns = maxUserTurns
		}
	}
}

// NewConversationService wires the engine to a session store. source is
// consulted for the connection field when a caller names no steps; it may
// be nil.
func NewConversationService(engine *dialogue.Engine, store SessionStore, source fields.Source, opts ...ServiceOption) (*ConversationService, error) {
	if engine == nil {
		return nil, errors.New("usecase: engine must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if source == nil {
		source = fields.None{}
	}
	s := &ConversationService{
		engine:        engine,
		store:         store,
		source:        source,
		logger:        slog.New(slog.DiscardHandler),
		maxMessageLen: defaultMaxMessageLen,
		maxUserTurns:  defaultMaxUserTurns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Steps lists the catalog ids callers may use.
func (s *ConversationService) Steps() []string {
	return s.engine.Catalog().IDs()
}

// Start opens a dialogue and produces its first assistant turn.
func (s *ConversationService) Start(ctx context.Context, in StartInput) (ConversationOutput, error) {
	sequence := trimAll(in.Steps)
	if len(sequence) == 0 {
		var err error
		if sequence, err = s.DefaultSequence(ctx, in.Scope); err != nil {
			return ConversationOutput{}, err
		}
	}

	d, err := s.engine.Start(sequence, in.Scope)
	if err != nil {
		var unknown *steps.UnknownStepError
		if errors.As(err, &unknown) {
			return ConversationOutput{}, newError(ErrorUnknownStep, "unknown_step", err)
		}
		return ConversationOutput{}, newError(ErrorInvalidInput, "invalid_steps", err)
	}

	turn, err := d.Prompt(ctx)
	if err != nil {
		return ConversationOutput{}, newError(ErrorInternal, "prompt_error", err)
	}
	if err := s.save(ctx, d); err != nil {
		return ConversationOutput{}, err
	}
	return output(d, turn.Content, ""), nil
}

// Reply feeds user input to a stored dialogue. Unless the dialogue halts,
// the next assistant turn is produced in the same call.
func (s *ConversationService) Reply(ctx context.Context, in ReplyInput) (ConversationOutput, error) {
	id := strings.TrimSpace(in.ConversationID)
	if id == "" {
		return ConversationOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if len(in.Message) > s.maxMessageLen {
		return ConversationOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	d, err := s.load(ctx, id)
	if err != nil {
		return ConversationOutput{}, err
	}
	if d.Halted() {
		return ConversationOutput{}, newError(ErrorConflict, "conversation_halted", nil)
	}
	if countUserTurns(d.Turns()) >= s.maxUserTurns && !d.IsExit(in.Message) {
		return ConversationOutput{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
	}

	dec, err := d.Reply(ctx, in.Message)
	if errors.Is(err, dialogue.ErrNotAwaitingReply) {
		return ConversationOutput{}, newError(ErrorConflict, "not_awaiting_reply", err)
	}
	if err != nil {
		return ConversationOutput{}, newError(ErrorInternal, "supervisor_error", err)
	}

	reply := ""
	if !d.Halted() {
		turn, err := d.Prompt(ctx)
		if err != nil {
			return ConversationOutput{}, newError(ErrorInternal, "prompt_error", err)
		}
		reply = turn.Content
	}
	if err := s.save(ctx, d); err != nil {
		return ConversationOutput{}, err
	}
	if d.Halted() {
		s.archive(ctx, d)
	}
	return output(d, reply, dec.Kind.String()), nil
}

// Get returns the stored dialogue without advancing it.
func (s *ConversationService) Get(ctx context.Context, id string) (ConversationOutput, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ConversationOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	d, err := s.load(ctx, id)
	if err != nil {
		return ConversationOutput{}, err
	}
	return output(d, "", ""), nil
}

func (s *ConversationService) load(ctx context.Context, id string) (*dialogue.Dialogue, error) {
	st, err := s.store.Load(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(ErrorNotFound, "conversation_not_found", err)
	}
	if err != nil {
		return nil, newError(ErrorInternal, "store_read_error", err)
	}
	d, err := s.engine.Resume(st)
	if err != nil {
		return nil, newError(ErrorInternal, "corrupt_state", err)
	}
	return d, nil
}

func (s *ConversationService) save(ctx context.Context, d *dialogue.Dialogue) error {
	err := s.store.Save(ctx, d.ID(), d.State())
	if errors.Is(err, repository.ErrConflict) {
		return newError(ErrorConflict, "concurrent_update", err)
	}
	if err != nil {
		return newError(ErrorInternal, "store_write_error", err)
	}
	return nil
}

func (s *ConversationService) archive(ctx context.Context, d *dialogue.Dialogue) {
	if s.archiver == nil {
		return
	}
	path, err := s.archiver.Archive(ctx, d.ID(), d.Turns())
	if err != nil {
		s.logger.Warn("archive transcript failed", "conversation_id", d.ID(), "err", err)
		return
	}
	s.logger.Info("transcript archived", "conversation_id", d.ID(), "path", path)
}

type connection struct {
	Steps []string `json:"steps"`
}

// DefaultSequence reads the tenant's sequence from the connection field,
// dropping ids the catalog does not know.
func (s *ConversationService) DefaultSequence(ctx context.Context, scope domain.Scope) ([]string, error) {
	raw, ok, err := s.source.Fetch(ctx, "", connectionField, scope)
	if err != nil {
		return nil, newError(ErrorInternal, "connection_unavailable", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, newError(ErrorInvalidInput, "missing_steps", nil)
	}
	var c connection
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, newError(ErrorInvalidInput, "malformed_connection", err)
	}
	known := s.engine.Catalog().Known(trimAll(c.Steps))
	if len(known) == 0 {
		return nil, newError(ErrorInvalidInput, "no_valid_steps", nil)
	}
	return known, nil
}

func output(d *dialogue.Dialogue, reply, decision string) ConversationOutput {
	return ConversationOutput{
		ConversationID: d.ID(),
		Step:           d.Current().ID,
		Reply:          reply,
		Decision:       decision,
		Halted:         d.Halted(),
		Transcript:     d.Turns(),
	}
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func countUserTurns(turns []domain.Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role == domain.RoleUser {
			n++
		}
	}
	return n
}
