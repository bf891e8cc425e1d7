// Package console runs a dialogue against a terminal.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

const defaultPrompt = "You: "

type line struct {
	text string
	err  error
}

// Reader reads one line of user input per call, printing a prompt first.
// It satisfies dialogue.InputSource.
type Reader struct {
	in     io.Reader
	out    io.Writer
	prompt string

	once  sync.Once
	lines chan line
}

func NewReader(in io.Reader, out io.Writer) *Reader {
	return &Reader{in: in, out: out, prompt: defaultPrompt}
}

// Next returns the next trimmed line, io.EOF when input closes, or
// ctx.Err() if ctx ends first.
func (r *Reader) Next(ctx context.Context) (string, error) {
	return r.Ask(ctx, r.prompt)
}

// Ask is Next with a one-off prompt.
func (r *Reader) Ask(ctx context.Context, prompt string) (string, error) {
	r.once.Do(r.start)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if prompt != "" {
		fmt.Fprint(r.out, prompt)
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	}
}

func (r *Reader) start() {
	r.lines = make(chan line)
	go func() {
		defer close(r.lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			r.lines <- line{text: strings.TrimSpace(sc.Text())}
		}
		if err := sc.Err(); err != nil {
			r.lines <- line{err: fmt.Errorf("console: read input: %w", err)}
		}
	}()
}
