// Package dialogue drives guided, multi-step conversations with a language
// model. An Engine holds the shared, read-only collaborators; each Dialogue
// owns its transcript and step cursor and must not be used concurrently.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ai-talker/internal/domain"
	"ai-talker/internal/fields"
	"ai-talker/internal/steps"
)

const defaultMaxTokens = 150

// ErrHalted is returned when a halted dialogue is asked to continue.
var ErrHalted = errors.New("dialogue: conversation has halted")

// ErrNotAwaitingReply is returned by Reply when no assistant turn is
// waiting for an answer.
var ErrNotAwaitingReply = errors.New("dialogue: no assistant turn awaiting a reply")

var defaultExitWords = []string{"exit", "quit", "bye"}

var newUUID = func() string { return uuid.NewString() }

type Engine struct {
	catalog    *steps.Registry
	source     fields.Source
	gateway    Gateway
	supervisor *Supervisor
	augmenter  Augmenter
	logger     *slog.Logger
	hooks      Hooks
	maxTokens  int
	exitWords  map[string]bool
	now        func() time.Time
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithSupervisor replaces the default supervisor, which uses the engine's
// gateway with linear advancement.
func WithSupervisor(s *Supervisor) Option {
	return func(e *Engine) {
		if s != nil {
			e.supervisor = s
		}
	}
}

// WithMaxTokens sets the completion budget for assistant turns.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithExitWords replaces the inputs that end a dialogue. Matching ignores
// case and surrounding space. Empty input always ends a dialogue.
func WithExitWords(words ...string) Option {
	return func(e *Engine) {
		e.exitWords = exitSet(words)
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAugmenter sets the lookup used for steps with Augments set. Passing
// nil disables augmentation.
func WithAugmenter(a Augmenter) Option {
	return func(e *Engine) { e.augmenter = a }
}

// NewEngine creates an Engine. A nil source behaves as if no field were
// configured.
func NewEngine(catalog *steps.Registry, source fields.Source, gateway Gateway, opts ...Option) (*Engine, error) {
	if catalog == nil {
		return nil, errors.New("dialogue: step registry must not be nil")
	}
	if gateway == nil {
		return nil, errors.New("dialogue: gateway must not be nil")
	}
	if source == nil {
		source = fields.None{}
	}
	e := &Engine{
		catalog:   catalog,
		source:    source,
		gateway:   gateway,
		logger:    slog.New(slog.DiscardHandler),
		maxTokens: defaultMaxTokens,
		exitWords: exitSet(defaultExitWords),
		now:       time.Now,
	}
	e.supervisor = NewSupervisor(gateway)
	e.augmenter = NewGatewayAugmenter(gateway)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func exitSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			m[w] = true
		}
	}
	return m
}

// Catalog returns the registry the engine resolves steps against.
func (e *Engine) Catalog() *steps.Registry {
	return e.catalog
}

// State is the persistable form of a dialogue.
type State struct {
	ID       string        `json:"id"`
	Sequence []string      `json:"sequence"`
	Cursor   int           `json:"cursor"`
	Halted   bool          `json:"halted"`
	Scope    domain.Scope  `json:"scope"`
	Turns    []domain.Turn `json:"turns"`
}

// Dialogue is one running conversation.
type Dialogue struct {
	eng        *Engine
	id         string
	scope      domain.Scope
	sequence   []domain.Step
	cursor     int
	halted     bool
	entered    int
	transcript *Transcript
}

// Start resolves every step id before anything else happens and returns a
// dialogue positioned at the first step. An unknown id yields
// *steps.UnknownStepError.
func (e *Engine) Start(sequence []string, scope domain.Scope) (*Dialogue, error) {
	if len(sequence) == 0 {
		return nil, errors.New("dialogue: step sequence must not be empty")
	}
	resolved, err := e.catalog.Resolve(sequence)
	if err != nil {
		return nil, err
	}
	return e.newDialogue(newUUID(), resolved, scope, NewTranscript()), nil
}

// Resume rebuilds a dialogue from persisted state.
func (e *Engine) Resume(st State) (*Dialogue, error) {
	if strings.TrimSpace(st.ID) == "" {
		return nil, errors.New("dialogue: state id must not be empty")
	}
	if len(st.Sequence) == 0 {
		return nil, errors.New("dialogue: step sequence must not be empty")
	}
	resolved, err := e.catalog.Resolve(st.Sequence)
	if err != nil {
		return nil, err
	}
	if st.Cursor < 0 || st.Cursor >= len(resolved) {
		return nil, fmt.Errorf("dialogue: cursor %d out of range for %d steps", st.Cursor, len(resolved))
	}
	tr, err := RestoreTranscript(st.Turns)
	if err != nil {
		return nil, err
	}
	d := e.newDialogue(st.ID, resolved, st.Scope, tr)
	d.cursor = st.Cursor
	d.halted = st.Halted
	if tr.Len() > 0 {
		d.entered = st.Cursor
	}
	return d, nil
}

func (e *Engine) newDialogue(id string, seq []domain.Step, scope domain.Scope, tr *Transcript) *Dialogue {
	tr.now = e.now
	return &Dialogue{
		eng:        e,
		id:         id,
		scope:      scope,
		sequence:   seq,
		entered:    -1,
		transcript: tr,
	}
}

// Run drives a new dialogue until it halts, the input source reports io.EOF,
// or ctx ends. The transcript is returned in every case.
func (e *Engine) Run(ctx context.Context, sequence []string, scope domain.Scope, in InputSource) ([]domain.Turn, error) {
	d, err := e.Start(sequence, scope)
	if err != nil {
		return nil, err
	}
	return d.Run(ctx, in)
}

func (d *Dialogue) ID() string { return d.id }
func (d *Dialogue) Scope() domain.Scope { return d.scope }
func (d *Dialogue) Halted() bool { return d.halted }
func (d *Dialogue) Current() domain.Step { return d.sequence[d.cursor] }
func (d *Dialogue) Turns() []domain.Turn { return d.transcript.Turns() }
func (d *Dialogue) Transcript() *Transcript { return d.transcript }
func (d *Dialogue) log() *slog.Logger { return d.eng.logger.With("conversation_id", d.id) }
func (d *Dialogue) hooks() *Hooks { return &d.eng.hooks }
func (d *Dialogue) stepIDs() []string { return stepIDs(d.sequence) }

func stepIDs(seq []domain.Step) []string {
	out := make([]string, len(seq))
	for i, s := range seq {
		out[i] = s.ID
	}
	return out
}

// State snapshots the dialogue for persistence.
func (d *Dialogue) State() State {
	return State{
		ID:       d.id,
		Sequence: d.stepIDs(),
		Cursor:   d.cursor,
		Halted:   d.halted,
		Scope:    d.scope,
		Turns:    d.transcript.Turns(),
	}
}

// AwaitingReply reports whether the latest non-system turn is an assistant
// turn, meaning the next event should be user input.
func (d *Dialogue) AwaitingReply() bool {
	turns := d.transcript.Last(d.transcript.Len())
	for i := len(turns) - 1; i >= 0; i-- {
		switch turns[i].Role {
		case domain.RoleAssistant:
			return true
		case domain.RoleUser:
			return false
		}
	}
	return false
}

// Prompt produces the next assistant turn for the current step. A gateway
// failure becomes an apology turn rather than an error; only cancellation
// of ctx is returned, in which case no turn is recorded.
func (d *Dialogue) Prompt(ctx context.Context) (domain.Turn, error) {
	if d.halted {
		return domain.Turn{}, ErrHalted
	}
	if err := ctx.Err(); err != nil {
		return domain.Turn{}, err
	}
	step := d.Current()
	log := d.log().With("step", step.ID)
	if d.entered != d.cursor {
		d.entered = d.cursor
		log.Info("entering step", "cursor", d.cursor)
		if h := d.hooks().OnStepEnter; h != nil {
			h(ctx, &StepEvent{ConversationID: d.id, Step: step.ID, Cursor: d.cursor})
		}
	}

	values := d.fieldValues(ctx, step)

	if step.Augments && d.eng.augmenter != nil {
		d.augment(ctx, step)
	}

	msgs := Render(step, values, d.transcript.Window())
	reply, err := d.eng.gateway.Complete(ctx, msgs, d.eng.maxTokens)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Turn{}, ctxErr
		}
		log.Warn("completion failed", "err", err)
		if h := d.hooks().OnGatewayError; h != nil {
			h(ctx, &FailureEvent{ConversationID: d.id, Step: step.ID, Err: err})
		}
		reply = ErrorTurnText(err)
	}
	return d.record(ctx, domain.RoleAssistant, reply), nil
}

// Reply records user input and applies the supervisor's decision. Empty
// input or an exit word halts without consulting the supervisor.
func (d *Dialogue) Reply(ctx context.Context, input string) (Decision, error) {
	if d.halted {
		return Decision{}, ErrHalted
	}
	if !d.AwaitingReply() {
		return Decision{}, ErrNotAwaitingReply
	}
	from := d.Current().ID
	d.record(ctx, domain.RoleUser, input)

	if d.IsExit(input) {
		d.halted = true
		dec := Decision{Kind: Complete}
		d.log().Info("user ended conversation", "step", from)
		d.transition(ctx, from, dec)
		return dec, nil
	}

	dec, err := d.eng.supervisor.Decide(ctx, d.transcript.Window(), d.sequence, d.cursor)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Decision{}, ctxErr
		}
		d.log().Warn("supervisor failed, staying on step", "step", from, "err", err)
	}
	switch dec.Kind {
	case Advance:
		d.cursor = dec.Index
	case Complete:
		d.halted = true
	}
	d.transition(ctx, from, dec)
	return dec, nil
}

// IsExit reports whether input ends the dialogue: empty input or one of the
// engine's exit words.
func (d *Dialogue) IsExit(input string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	return trimmed == "" || d.eng.exitWords[trimmed]
}

// Run alternates Prompt and Reply until the dialogue halts. io.EOF from the
// input halts without recording a turn.
func (d *Dialogue) Run(ctx context.Context, in InputSource) ([]domain.Turn, error) {
	for !d.halted {
		if err := ctx.Err(); err != nil {
			return d.Turns(), err
		}
		if !d.AwaitingReply() {
			if _, err := d.Prompt(ctx); err != nil {
				return d.Turns(), err
			}
		}
		input, err := in.Next(ctx)
		if errors.Is(err, io.EOF) {
			d.halted = true
			d.log().Info("input closed", "step", d.Current().ID)
			break
		}
		if err != nil {
			return d.Turns(), err
		}
		if _, err := d.Reply(ctx, input); err != nil {
			return d.Turns(), err
		}
	}
	return d.Turns(), nil
}

func (d *Dialogue) fieldValues(ctx context.Context, step domain.Step) map[string]string {
	names := Placeholders(step.Template)
	values := make(map[string]string, len(names))
	for _, name := range names {
		v, ok, err := d.eng.source.Fetch(ctx, step.ID, name, d.scope)
		if err != nil {
			d.log().Warn("field lookup failed", "step", step.ID, "field", name, "err", err)
			if h := d.hooks().OnFieldUnavailable; h != nil {
				h(ctx, &FailureEvent{ConversationID: d.id, Step: step.ID, Field: name, Err: err})
			}
			continue
		}
		if ok {
			values[name] = v
		}
	}
	return values
}

func (d *Dialogue) record(ctx context.Context, role domain.Role, content string) domain.Turn {
	turn := d.transcript.Append(role, content)
	if h := d.hooks().OnTurn; h != nil {
		h(ctx, &TurnEvent{ConversationID: d.id, Step: d.Current().ID, Turn: turn})
	}
	return turn
}

func (d *Dialogue) transition(ctx context.Context, from string, dec Decision) {
	d.log().Info("transition", "step", from, "decision", dec.Kind.String(), "target", dec.Target)
	if h := d.hooks().OnTransition; h != nil {
		h(ctx, &TransitionEvent{ConversationID: d.id, From: from, Decision: dec})
	}
}
