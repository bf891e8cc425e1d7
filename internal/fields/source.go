// Package fields looks up per-tenant values that fill step template
// placeholders.
package fields

import (
	"context"
	"fmt"

	"ai-talker/internal/domain"
)

// Source fetches one field for a step within a tenant scope. ok is false
// when no value is configured; err is non-nil only when the backing
// service could not be reached, and is then a *SourceUnavailableError.
type Source interface {
	Fetch(ctx context.Context, stepID, field string, scope domain.Scope) (value string, ok bool, err error)
}

// SourceUnavailableError reports a transport or service failure while
// reading a field.
type SourceUnavailableError struct {
	Field string
	Err   error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("fields: source unavailable for %q: %v", e.Field, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

func unavailable(field string, err error) error {
	return &SourceUnavailableError{Field: field, Err: err}
}

// Map is an in-memory Source. Keys are either "STEP.field", which wins, or
// a bare field name shared by every step. Scope is ignored.
type Map map[string]string

func (m Map) Fetch(_ context.Context, stepID, field string, _ domain.Scope) (string, bool, error) {
	if v, ok := m[stepID+"."+field]; ok {
		return v, true, nil
	}
	v, ok := m[field]
	return v, ok, nil
}

// None is a Source with no configured fields.
type None struct{}

func (None) Fetch(context.Context, string, string, domain.Scope) (string, bool, error) {
	return "", false, nil
}
