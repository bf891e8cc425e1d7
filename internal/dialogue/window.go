package dialogue

import (
	"fmt"
	"time"

	"ai-talker/internal/domain"
)

// WindowSize is the number of recent turns sent with every model request.
const WindowSize = 5

// Transcript is the append-only record of one dialogue. Turns are numbered
// from 1 and never removed or reordered.
type Transcript struct {
	turns []domain.Turn
	now   func() time.Time
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// RestoreTranscript rebuilds a transcript from persisted turns, which must
// carry strictly increasing sequence numbers.
func RestoreTranscript(turns []domain.Turn) (*Transcript, error) {
	for i, t := range turns {
		if _, err := domain.ParseRole(string(t.Role)); err != nil {
			return nil, fmt.Errorf("dialogue: turn %d: %w", i, err)
		}
		if i > 0 && t.Seq <= turns[i-1].Seq {
			return nil, fmt.Errorf("dialogue: turn %d: sequence %d does not follow %d", i, t.Seq, turns[i-1].Seq)
		}
	}
	tr := NewTranscript()
	tr.turns = append(make([]domain.Turn, 0, len(turns)), turns...)
	return tr, nil
}

// Append records a new turn and returns it.
func (t *Transcript) Append(role domain.Role, content string) domain.Turn {
	seq := 1
	if n := len(t.turns); n > 0 {
		seq = t.turns[n-1].Seq + 1
	}
	turn := domain.Turn{Role: role, Content: content, Seq: seq, At: t.clock().UTC()}
	t.turns = append(t.turns, turn)
	return turn
}

// Last returns up to n of the most recent turns, oldest first. The result
// is a copy, so later appends never show up in it.
func (t *Transcript) Last(n int) []domain.Turn {
	if n <= 0 {
		return nil
	}
	start := len(t.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]domain.Turn, len(t.turns)-start)
	copy(out, t.turns[start:])
	return out
}

// Window is Last(WindowSize).
func (t *Transcript) Window() []domain.Turn {
	return t.Last(WindowSize)
}

// Turns returns a copy of every turn.
func (t *Transcript) Turns() []domain.Turn {
	return t.Last(len(t.turns))
}

func (t *Transcript) Len() int {
	return len(t.turns)
}

// lastUser returns the most recent User turn.
func (t *Transcript) lastUser() (domain.Turn, bool) {
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].Role == domain.RoleUser {
			return t.turns[i], true
		}
	}
	return domain.Turn{}, false
}

func (t *Transcript) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}
