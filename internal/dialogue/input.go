package dialogue

import (
	"context"
	"io"
)

// InputSource supplies user input. It returns io.EOF when no more input
// will arrive.
type InputSource interface {
	Next(ctx context.Context) (string, error)
}

// Script replays a fixed list of inputs and then reports io.EOF.
type Script struct {
	lines []string
	pos   int
}

func NewScript(lines ...string) *Script {
	return &Script{lines: lines}
}

func (s *Script) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.lines) {
		return "", io.EOF
	}
	line := s.lines[s.pos]
	s.pos++
	return line, nil
}
