package dialogue

import (
	"context"
	"errors"

	"ai-talker/internal/domain"
)

// Gateway submits role-tagged messages to a language model and returns the
// completion text.
type Gateway interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, maxTokens int) (string, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, messages []domain.ChatMessage, maxTokens int) (string, error)

func (f GatewayFunc) Complete(ctx context.Context, messages []domain.ChatMessage, maxTokens int) (string, error) {
	return f(ctx, messages, maxTokens)
}

const errorTurnPrefix = "I apologize, but I encountered an error: "

// ErrorTurnText is the assistant turn recorded in place of a failed
// completion.
func ErrorTurnText(err error) string {
	var d interface{ Detail() string }
	if errors.As(err, &d) {
		return errorTurnPrefix + d.Detail()
	}
	return errorTurnPrefix + err.Error()
}
