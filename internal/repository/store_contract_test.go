package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-talker/internal/dialogue"
	"ai-talker/internal/domain"
)

type sessionStore interface {
	Save(ctx context.Context, id string, st dialogue.State) error
	Load(ctx context.Context, id string) (dialogue.State, error)
}

func sampleState(id string, n int) dialogue.State {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	st := dialogue.State{
		ID:       id,
		Sequence: []string{"GREETING", "INFO_PROVISION", "CLOSING"},
		Cursor:   1,
		Scope:    domain.Scope{OrgID: "acme", UseCase: "sales", BotName: "ava"},
	}
	roles := []domain.Role{domain.RoleAssistant, domain.RoleUser, domain.RoleSystem}
	for i := 1; i <= n; i++ {
		st.Turns = append(st.Turns, domain.Turn{
			Role:    roles[(i-1)%len(roles)],
			Content: "turn " + string(rune('0'+i)),
			Seq:     i,
			At:      at.Add(time.Duration(i) * time.Second),
		})
	}
	return st
}

// runStoreContract checks the behaviour every session store shares.
func runStoreContract(t *testing.T, store sessionStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	st := sampleState("conv-1", 2)
	require.NoError(t, store.Save(ctx, "conv-1", st))

	got, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, st, got)

	st = sampleState("conv-1", 5)
	st.Cursor = 2
	st.Halted = true
	require.NoError(t, store.Save(ctx, "conv-1", st))

	got, err = store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, st, got)

	other := sampleState("conv-2", 1)
	require.NoError(t, store.Save(ctx, "conv-2", other))
	got, err = store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 5)
}
