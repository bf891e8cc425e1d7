package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"ai-talker/internal/dialogue"
	"ai-talker/internal/domain"
)

const defaultWrap = 80

// Printer writes dialogue progress for a human reader. Assistant turns are
// rendered as markdown when a renderer is configured.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	render func(string) (string, error)
}

// NewPrinter writes plain text to out. Use NewTerminalPrinter for styled
// output.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// NewTerminalPrinter renders assistant turns with glamour when f is a
// terminal, wrapping at its width.
func NewTerminalPrinter(f *os.File) (*Printer, error) {
	p := NewPrinter(f)
	if !IsTerminal(f) {
		return p, nil
	}
	width := defaultWrap
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		width = w
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("console: markdown renderer: %w", err)
	}
	p.render = r.Render
	return p, nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

func (p *Printer) Println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, a...)
}

// Hooks prints step entries, assistant turns and transitions.
func (p *Printer) Hooks() dialogue.Hooks {
	return dialogue.Hooks{
		OnStepEnter: func(_ context.Context, e *dialogue.StepEvent) {
			p.Println()
			p.Println("Current step:", e.Step)
		},
		OnTurn: func(_ context.Context, e *dialogue.TurnEvent) {
			if e.Turn.Role == domain.RoleAssistant {
				p.Println("AI:", p.markdown(e.Turn.Content))
			}
		},
		OnTransition: func(_ context.Context, e *dialogue.TransitionEvent) {
			switch e.Decision.Kind {
			case dialogue.Advance:
				p.Println("Moving to next step:", e.Decision.Target)
			case dialogue.Complete:
				p.Println("Conversation complete")
			}
		},
	}
}

func (p *Printer) markdown(s string) string {
	if p.render == nil {
		return s
	}
	out, err := p.render(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(out)
}
