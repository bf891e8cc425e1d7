package fields

import (
	"context"
	"errors"
	"path"
	"strings"

	"ai-talker/internal/domain"
	"ai-talker/internal/integrations/paramstore"
)

// ParamSource reads fields from the parameter store under
// <prefix>/<org>/<use case>/<bot>/<field>.
type ParamSource struct {
	getter paramstore.Getter
	prefix string
}

// NewParamSource creates a ParamSource rooted at prefix.
func NewParamSource(g paramstore.Getter, prefix string) (*ParamSource, error) {
	if g == nil {
		return nil, errors.New("fields: paramstore getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("fields: parameter prefix must not be empty")
	}
	return &ParamSource{getter: g, prefix: prefix}, nil
}

func (s *ParamSource) Fetch(ctx context.Context, _ string, field string, scope domain.Scope) (string, bool, error) {
	if scope.Empty() {
		return "", false, nil
	}
	v, err := s.getter.GetParameter(ctx, s.name(field, scope))
	if errors.Is(err, paramstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable(field, err)
	}
	return v, true, nil
}

func (s *ParamSource) name(field string, scope domain.Scope) string {
	return path.Join(s.prefix, scope.OrgID, scope.UseCase, scope.BotName, field)
}
