// Package steps holds the immutable catalog of dialogue steps.
package steps

import (
	"errors"
	"fmt"
	"strings"

	"ai-talker/internal/domain"
)

// UnknownStepError reports a step id that is not in the catalog.
type UnknownStepError struct {
	ID string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("steps: unknown step %q", e.ID)
}

// Registry is a fixed, ordered step catalog. It is safe for concurrent use
// because nothing mutates it after construction.
type Registry struct {
	order []string
	byID  map[string]domain.Step
}

// NewRegistry builds a registry from the given steps, keeping their order.
func NewRegistry(steps ...domain.Step) (*Registry, error) {
	if len(steps) == 0 {
		return nil, errors.New("steps: catalog must not be empty")
	}
	r := &Registry{
		order: make([]string, 0, len(steps)),
		byID:  make(map[string]domain.Step, len(steps)),
	}
	for _, s := range steps {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return nil, errors.New("steps: step id must not be empty")
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, fmt.Errorf("steps: duplicate step id %q", s.ID)
		}
		r.order = append(r.order, s.ID)
		r.byID[s.ID] = s
	}
	return r, nil
}

// Lookup returns the step registered under id.
func (r *Registry) Lookup(id string) (domain.Step, error) {
	s, ok := r.byID[id]
	if !ok {
		return domain.Step{}, &UnknownStepError{ID: id}
	}
	return s, nil
}

// IDs returns the catalog ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve maps ids onto steps, failing on the first unknown id.
func (r *Registry) Resolve(ids []string) ([]domain.Step, error) {
	out := make([]domain.Step, 0, len(ids))
	for _, id := range ids {
		s, err := r.Lookup(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Known drops ids the catalog does not contain.
func (r *Registry) Known(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.byID[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
