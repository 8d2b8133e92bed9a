package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, lease time.Duration) *ArchiveQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewArchiveQueue(client, "test", lease)
}

func TestArchiveQueue_LeaseAndAck(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, time.Minute)

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	require.NoError(t, q.Enqueue(ctx, "job-2"))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	id, attempt, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, 1, attempt)
	require.NoError(t, q.Ack(ctx, id))

	id, _, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-2", id)

	id, _, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestArchiveQueue_RequeueExpiredCountsAttempts(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, time.Millisecond)

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	id, attempt, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)
	require.Equal(t, 1, attempt)

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, ids)

	id, attempt, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, 2, attempt)
}

func TestArchiveQueue_DeadLetter(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, time.Minute)

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	id, _, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NoError(t, q.DeadLetter(ctx, id))

	dead, err := q.DeadPeek(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, dead)

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
