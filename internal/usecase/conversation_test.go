package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-talker/internal/dialogue"
	"ai-talker/internal/domain"
	"ai-talker/internal/fields"
	"ai-talker/internal/repository"
	"ai-talker/internal/steps"
)

type memStore struct {
	mu      sync.Mutex
	states  map[string]dialogue.State
	loadErr error
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{states: map[string]dialogue.State{}}
}

func (m *memStore) Load(_ context.Context, id string) (dialogue.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return dialogue.State{}, m.loadErr
	}
	st, ok := m.states[id]
	if !ok {
		return dialogue.State{}, repository.ErrNotFound
	}
	return st, nil
}

func (m *memStore) Save(_ context.Context, id string, st dialogue.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.states[id] = st
	return nil
}

type mockArchiver struct {
	ids []string
	err error
}

func (a *mockArchiver) Archive(_ context.Context, id string, _ []domain.Turn) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.ids = append(a.ids, id)
	return "/tmp/" + id + ".json", nil
}

// queueGateway answers with the queued replies, then with fallback.
type queueGateway struct {
	mu       sync.Mutex
	replies  []string
	fallback string
}

func (g *queueGateway) Complete(_ context.Context, _ []domain.ChatMessage, _ int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.replies) == 0 {
		return g.fallback, nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

var testScope = domain.Scope{OrgID: "acme", UseCase: "sales", BotName: "ava"}

func newTestService(t *testing.T, store SessionStore, source fields.Source, supervisor string, opts ...ServiceOption) *ConversationService {
	t.Helper()
	assistant := &queueGateway{fallback: "How can I help?"}
	sup := &queueGateway{fallback: supervisor}
	eng, err := dialogue.NewEngine(steps.Default(), source, assistant,
		dialogue.WithSupervisor(dialogue.NewSupervisor(sup)),
		dialogue.WithAugmenter(nil),
		dialogue.WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)
	svc, err := NewConversationService(eng, store, source, opts...)
	require.NoError(t, err)
	return svc
}

func requireCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, code, ue.Code)
	if reason != "" {
		require.Equal(t, reason, ue.Reason)
	}
}

func TestNewConversationService_ValidatesDependencies(t *testing.T) {
	eng, err := dialogue.NewEngine(steps.Default(), nil, &queueGateway{})
	require.NoError(t, err)

	_, err = NewConversationService(nil, newMemStore(), nil)
	require.ErrorContains(t, err, "engine must not be nil")
	_, err = NewConversationService(eng, nil, nil)
	require.ErrorContains(t, err, "session store must not be nil")

	svc, err := NewConversationService(eng, newMemStore(), nil)
	require.NoError(t, err)
	require.Equal(t, steps.Default().IDs(), svc.Steps())
}

func TestStart_PersistsFirstAssistantTurn(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, nil, "STAY")

	out, err := svc.Start(context.Background(), StartInput{Steps: []string{" GREETING ", steps.Closing}, Scope: testScope})
	require.NoError(t, err)
	require.NotEmpty(t, out.ConversationID)
	require.Equal(t, steps.Greeting, out.Step)
	require.Equal(t, "How can I help?", out.Reply)
	require.False(t, out.Halted)
	require.Len(t, out.Transcript, 1)

	st := store.states[out.ConversationID]
	require.Equal(t, []string{steps.Greeting, steps.Closing}, st.Sequence)
	require.Equal(t, testScope, st.Scope)
}

func TestStart_UnknownStep(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, nil, "STAY")

	_, err := svc.Start(context.Background(), StartInput{Steps: []string{steps.Greeting, "NOPE"}})
	requireCode(t, err, ErrorUnknownStep, "unknown_step")
	var unknown *steps.UnknownStepError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "NOPE", unknown.ID)
	require.Zero(t, store.saves)
}

func TestStart_FallsBackToConnectionSteps(t *testing.T) {
	cases := []struct {
		name     string
		source   fields.Source
		wantSeq  []string
		wantCode ErrorCode
		reason   string
	}{
		{
			name:    "known steps kept",
			source:  fields.Map{"connection": `{"steps":["SUPPORT","BOGUS","CLOSING"]}`},
			wantSeq: []string{steps.Support, steps.Closing},
		},
		{name: "no source", source: nil, wantCode: ErrorInvalidInput, reason: "missing_steps"},
		{name: "malformed", source: fields.Map{"connection": `{steps`}, wantCode: ErrorInvalidInput, reason: "malformed_connection"},
		{name: "nothing known", source: fields.Map{"connection": `{"steps":["BOGUS"]}`}, wantCode: ErrorInvalidInput, reason: "no_valid_steps"},
		{name: "source down", source: downSource{}, wantCode: ErrorInternal, reason: "connection_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestService(t, store, tc.source, "STAY")
			out, err := svc.Start(context.Background(), StartInput{Scope: testScope})
			if tc.wantCode != "" {
				requireCode(t, err, tc.wantCode, tc.reason)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantSeq, store.states[out.ConversationID].Sequence)
		})
	}
}

type downSource struct{}

func (downSource) Fetch(_ context.Context, _, field string, _ domain.Scope) (string, bool, error) {
	return "", false, &fields.SourceUnavailableError{Field: field, Err: errors.New("timeout")}
}

func TestReply_AdvancesAndPrompts(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, nil, "CLOSING")
	ctx := context.Background()

	started, err := svc.Start(ctx, StartInput{Steps: []string{steps.Greeting, steps.Closing}})
	require.NoError(t, err)

	out, err := svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: "hi, I'm Sam"})
	require.NoError(t, err)
	require.Equal(t, "advance", out.Decision)
	require.Equal(t, steps.Closing, out.Step)
	require.Equal(t, "How can I help?", out.Reply)
	require.Len(t, out.Transcript, 3)
	require.Equal(t, 1, store.states[started.ConversationID].Cursor)
}

func TestReply_ExitHaltsAndArchives(t *testing.T) {
	store := newMemStore()
	arch := &mockArchiver{}
	svc := newTestService(t, store, nil, "STAY", WithArchiver(arch))
	ctx := context.Background()

	started, err := svc.Start(ctx, StartInput{Steps: []string{steps.Greeting}})
	require.NoError(t, err)

	out, err := svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: "bye"})
	require.NoError(t, err)
	require.True(t, out.Halted)
	require.Equal(t, "complete", out.Decision)
	require.Empty(t, out.Reply)
	require.Len(t, out.Transcript, 2)
	require.Equal(t, []string{started.ConversationID}, arch.ids)

	_, err = svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: "hello?"})
	requireCode(t, err, ErrorConflict, "conversation_halted")
}

func TestReply_ArchiveFailureDoesNotFailRequest(t *testing.T) {
	svc := newTestService(t, newMemStore(), nil, "COMPLETE", WithArchiver(&mockArchiver{err: errors.New("disk full")}))
	ctx := context.Background()

	started, err := svc.Start(ctx, StartInput{Steps: []string{steps.Closing}})
	require.NoError(t, err)
	out, err := svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: "thanks"})
	require.NoError(t, err)
	require.True(t, out.Halted)
}

func TestReply_ValidationErrors(t *testing.T) {
	svc := newTestService(t, newMemStore(), nil, "STAY", WithLimits(10, 0))
	ctx := context.Background()

	_, err := svc.Reply(ctx, ReplyInput{ConversationID: "  ", Message: "x"})
	requireCode(t, err, ErrorInvalidInput, "missing_conversation_id")
	_, err = svc.Reply(ctx, ReplyInput{ConversationID: "abc", Message: "this is far too long"})
	requireCode(t, err, ErrorInvalidInput, "message_too_long")
	_, err = svc.Reply(ctx, ReplyInput{ConversationID: "missing", Message: "hi"})
	requireCode(t, err, ErrorNotFound, "conversation_not_found")
}

func TestReply_UserTurnLimit(t *testing.T) {
	svc := newTestService(t, newMemStore(), nil, "STAY", WithLimits(0, 2))
	ctx := context.Background()

	started, err := svc.Start(ctx, StartInput{Steps: []string{steps.Greeting}})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: "more"})
		require.NoError(t, err)
	}
	_, err = svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: "more"})
	requireCode(t, err, ErrorInvalidInput, "conversation_turn_limit")
}

func TestReply_ExitAtTurnLimitHalts(t *testing.T) {
	for _, msg := range []string{"exit", "  "} {
		store := newMemStore()
		archiver := &mockArchiver{}
		svc := newTestService(t, store, nil, "STAY", WithLimits(0, 2), WithArchiver(archiver))
		ctx := context.Background()

		started, err := svc.Start(ctx, StartInput{Steps: []string{steps.Greeting}})
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			_, err = svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: "more"})
			require.NoError(t, err)
		}

		out, err := svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: msg})
		require.NoError(t, err, "message %q", msg)
		require.True(t, out.Halted)
		require.Equal(t, "complete", out.Decision)
		require.Equal(t, []string{started.ConversationID}, archiver.ids)

		got, err := svc.Get(ctx, started.ConversationID)
		require.NoError(t, err)
		require.True(t, got.Halted)
	}
}

func TestReply_StoreErrors(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	store.loadErr = errors.New("redis down")
	svc := newTestService(t, store, nil, "STAY")
	_, err := svc.Reply(ctx, ReplyInput{ConversationID: "abc", Message: "hi"})
	requireCode(t, err, ErrorInternal, "store_read_error")

	store = newMemStore()
	svc = newTestService(t, store, nil, "STAY")
	started, err := svc.Start(ctx, StartInput{Steps: []string{steps.Greeting}})
	require.NoError(t, err)
	store.saveErr = repository.ErrConflict
	_, err = svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: "hi"})
	requireCode(t, err, ErrorConflict, "concurrent_update")

	store.saveErr = errors.New("throttled")
	_, err = svc.Start(ctx, StartInput{Steps: []string{steps.Greeting}})
	requireCode(t, err, ErrorInternal, "store_write_error")
}

func TestReply_CorruptState(t *testing.T) {
	store := newMemStore()
	store.states["abc"] = dialogue.State{ID: "abc", Sequence: []string{steps.Greeting}, Cursor: 4}
	svc := newTestService(t, store, nil, "STAY")

	_, err := svc.Reply(context.Background(), ReplyInput{ConversationID: "abc", Message: "hi"})
	requireCode(t, err, ErrorInternal, "corrupt_state")
}

func TestReply_NotAwaitingReply(t *testing.T) {
	store := newMemStore()
	store.states["abc"] = dialogue.State{ID: "abc", Sequence: []string{steps.Greeting}}
	svc := newTestService(t, store, nil, "STAY")

	_, err := svc.Reply(context.Background(), ReplyInput{ConversationID: "abc", Message: "hi"})
	requireCode(t, err, ErrorConflict, "not_awaiting_reply")
}

func TestReply_CancelledContext(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, nil, "STAY")
	started, err := svc.Start(context.Background(), StartInput{Steps: []string{steps.Greeting}})
	require.NoError(t, err)
	saves := store.saves

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Reply(ctx, ReplyInput{ConversationID: started.ConversationID, Message: "hi"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, saves, store.saves)
}

func TestGet(t *testing.T) {
	svc := newTestService(t, newMemStore(), nil, "STAY")
	ctx := context.Background()

	started, err := svc.Start(ctx, StartInput{Steps: []string{steps.Greeting}})
	require.NoError(t, err)

	out, err := svc.Get(ctx, started.ConversationID)
	require.NoError(t, err)
	require.Equal(t, started.Transcript, out.Transcript)
	require.Equal(t, steps.Greeting, out.Step)
	require.Empty(t, out.Reply)

	_, err = svc.Get(ctx, "")
	requireCode(t, err, ErrorInvalidInput, "missing_conversation_id")
	_, err = svc.Get(ctx, "nope")
	requireCode(t, err, ErrorNotFound, "conversation_not_found")
}

func TestError_Format(t *testing.T) {
	require.Equal(t, "usecase: NOT_FOUND (conversation_not_found)", newError(ErrorNotFound, "conversation_not_found", nil).Error())
	err := newError(ErrorInternal, "store_read_error", errors.New("boom"))
	require.Equal(t, "usecase: INTERNAL_ERROR (store_read_error): boom", err.Error())
	require.Equal(t, "boom", errors.Unwrap(err).Error())
}
