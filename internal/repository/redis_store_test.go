package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client, opts...), mr
}

func TestRedisStore_Contract(t *testing.T) {
	s, _ := newMiniRedisStore(t)
	runStoreContract(t, s)
}

func TestRedisStore_TTL(t *testing.T) {
	s, mr := newMiniRedisStore(t, WithTTL(time.Hour), WithPrefix("test:"))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a", sampleState("a", 1)))
	require.True(t, mr.Exists("test:a"))
	require.Equal(t, time.Hour, mr.TTL("test:a"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Load(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ZeroTTLNeverExpires(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	require.NoError(t, s.Save(context.Background(), "a", sampleState("a", 1)))
	require.Zero(t, mr.TTL("talker:conversation:a"))
}

func TestRedisStore_OnlySessionKeys(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "a", sampleState("a", 1)))
	require.Equal(t, []string{"talker:conversation:a"}, mr.Keys())

	// ids that look like bookkeeping keys are ordinary misses
	for _, id := range []string{"index", "_index"} {
		_, err := s.Load(ctx, id)
		require.ErrorIs(t, err, ErrNotFound, "id %q", id)
	}
}

func TestRedisStore_CorruptValue(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	require.NoError(t, mr.Set("talker:conversation:bad", "{not json"))
	_, err := s.Load(context.Background(), "bad")
	require.ErrorContains(t, err, "decode state")
}

func TestRedisStore_ServerDown(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	mr.Close()
	require.Error(t, s.Ping(context.Background()))
	_, err := s.Load(context.Background(), "a")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}
