package dialogue

import (
	"context"

	"ai-talker/internal/domain"
)

// StepEvent fires when a dialogue first prompts for a step.
type StepEvent struct {
	ConversationID string
	Step           string
	Cursor         int
}

// TurnEvent fires after every appended turn.
type TurnEvent struct {
	ConversationID string
	Step           string
	Turn           domain.Turn
}

// TransitionEvent fires after every decision applied by Reply.
type TransitionEvent struct {
	ConversationID string
	From           string
	Decision       Decision
}

// FailureEvent describes a tolerated collaborator failure. Field is empty
// for gateway failures.
type FailureEvent struct {
	ConversationID string
	Step           string
	Field          string
	Err            error
}

// Hooks are optional callbacks invoked synchronously from the dialogue's
// goroutine.
type Hooks struct {
	OnStepEnter        func(context.Context, *StepEvent)
	OnTurn             func(context.Context, *TurnEvent)
	OnTransition       func(context.Context, *TransitionEvent)
	OnFieldUnavailable func(context.Context, *FailureEvent)
	OnGatewayError     func(context.Context, *FailureEvent)
}

// Merge returns hooks that call h first and then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStepEnter:        chain(h.OnStepEnter, other.OnStepEnter),
		OnTurn:             chain(h.OnTurn, other.OnTurn),
		OnTransition:       chain(h.OnTransition, other.OnTransition),
		OnFieldUnavailable: chain(h.OnFieldUnavailable, other.OnFieldUnavailable),
		OnGatewayError:     chain(h.OnGatewayError, other.OnGatewayError),
	}
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *E) {
		a(ctx, e)
		b(ctx, e)
	}
}
