package dialogue

import (
	"context"
	"fmt"
	"strings"

	"ai-talker/internal/domain"
)

// DecisionKind tags a transition decision.
type DecisionKind int

const (
	Stay DecisionKind = iota
	Advance
	Complete
)

func (k DecisionKind) String() string {
	switch k {
	case Stay:
		return "stay"
	case Advance:
		return "advance"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("DecisionKind(%d)", int(k))
	}
}

// Decision is the supervisor's verdict after a user turn. For Advance,
// Index is the position in the sequence to move to and Target its step id.
type Decision struct {
	Kind   DecisionKind
	Target string
	Index  int
}

const (
	replyStay     = "STAY"
	replyComplete = "COMPLETE"

	defaultSupervisorTokens = 16
)

// ParseDecision maps a raw supervisor reply onto a Decision. Any reply other
// than STAY or COMPLETE advances one position; with allowJumps, a reply
// naming a step of the sequence moves there instead. Advancing past the
// last step completes the dialogue.
func ParseDecision(reply string, sequence []string, cursor int, allowJumps bool) Decision {
	r := strings.ToUpper(strings.TrimSpace(reply))
	switch r {
	case replyStay:
		return Decision{Kind: Stay}
	case replyComplete:
		return Decision{Kind: Complete}
	}
	if allowJumps {
		for i, id := range sequence {
			if i != cursor && strings.EqualFold(id, r) {
				return Decision{Kind: Advance, Target: id, Index: i}
			}
		}
	}
	next := cursor + 1
	if next >= len(sequence) {
		return Decision{Kind: Complete}
	}
	return Decision{Kind: Advance, Target: sequence[next], Index: next}
}

// Supervisor asks the model whether the current step's goal has been met.
type Supervisor struct {
	gateway    Gateway
	maxTokens  int
	allowJumps bool
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorMaxTokens sets the completion budget for judgment calls.
func WithSupervisorMaxTokens(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// AllowJumps lets a reply that names a later or earlier step move there
// directly. Off by default, in which case every non-STAY reply advances by
// exactly one step.
func AllowJumps(on bool) SupervisorOption {
	return func(s *Supervisor) { s.allowJumps = on }
}

func NewSupervisor(g Gateway, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{gateway: g, maxTokens: defaultSupervisorTokens}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decide issues the judgment call for sequence[cursor]. On gateway failure
// it returns a Stay decision together with the error.
func (s *Supervisor) Decide(ctx context.Context, tail []domain.Turn, sequence []domain.Step, cursor int) (Decision, error) {
	ids := stepIDs(sequence)
	current := sequence[cursor]
	msgs := []domain.ChatMessage{
		{Role: domain.ChatRoleSystem, Content: buildSupervisorPrompt(current, ids, tail)},
	}
	reply, err := s.gateway.Complete(ctx, msgs, s.maxTokens)
	if err != nil {
		return Decision{Kind: Stay}, fmt.Errorf("dialogue: supervisor: %w", err)
	}
	return ParseDecision(reply, ids, cursor, s.allowJumps), nil
}

func buildSupervisorPrompt(current domain.Step, sequence []string, tail []domain.Turn) string {
	lines := make([]string, 0, len(tail))
	for _, t := range tail {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return strings.Join([]string{
		"Role:",
		"You supervise a guided customer conversation that moves through a fixed sequence of steps.",
		"",
		"Current step: " + current.ID,
		"Step sequence: " + strings.Join(sequence, ", "),
		"",
		"Current step requirements:",
		current.Template,
		"",
		"Recent conversation:",
		strings.Join(lines, "\n"),
		"",
		"Output Contract:",
		"- Reply STAY if the requirements of the current step are not yet met.",
		"- Reply COMPLETE if the conversation should end now.",
		"- Otherwise reply with the identifier of the next step.",
		"- Reply with that single word only.",
	}, "\n")
}
