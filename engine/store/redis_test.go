package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/corewf/flowengine/engine/store"
)

func newTestRedisStore(t *testing.T) *store.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewRedisStore(client)
}

func TestRedisStoreSetIfAbsentAndCompareDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	ok, err := s.SetIfAbsent(ctx, "lock:a", []byte("owner-1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetIfAbsent(ctx, "lock:a", []byte("owner-2"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "lock already held should reject a second SetIfAbsent")

	ok, err = s.GetAndDeleteIf(ctx, "lock:a", []byte("owner-2"))
	require.NoError(t, err)
	require.False(t, ok, "compare-delete with the wrong token must not delete")

	ok, err = s.GetAndDeleteIf(ctx, "lock:a", []byte("owner-1"))
	require.NoError(t, err)
	require.True(t, ok, "compare-delete with the correct token must delete")

	_, err = s.Get(ctx, "lock:a")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedisStoreHashAndSetOps(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.HSet(ctx, "exec:1:nodes", "n1", []byte(`{"status":"pending"}`)))
	v, err := s.HGet(ctx, "exec:1:nodes", "n1")
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"pending"}`, string(v))

	require.NoError(t, s.SAdd(ctx, "executions:active", "exec-1"))
	require.NoError(t, s.SAdd(ctx, "executions:active", "exec-2"))
	members, err := s.SMembers(ctx, "executions:active")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"exec-1", "exec-2"}, members)

	require.NoError(t, s.SRem(ctx, "executions:active", "exec-1"))
	members, err = s.SMembers(ctx, "executions:active")
	require.NoError(t, err)
	require.Equal(t, []string{"exec-2"}, members)
}

func TestRedisStoreStreamAppendAndRange(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.StreamAppend(ctx, "exec:1:events", []byte{byte('a' + i)}, 0))
	}
	entries, cursor, err := s.StreamRange(ctx, "exec:1:events", "", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotEmpty(t, cursor)

	rest, _, err := s.StreamRange(ctx, "exec:1:events", cursor, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}
