package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ArchiveQueue tracks job ids waiting to have their history archived. Ids
// move from a ready list into an in-flight set with a lease; expired leases
// are requeued and ids that exhaust their attempts go to a dead list.
type ArchiveQueue struct {
	client      *redis.Client
	readyKey    string
	inflightKey string
	attemptsKey string
	deadKey     string
	lease       time.Duration
}

// NewArchiveQueue builds a queue over client. All keys share prefix.
func NewArchiveQueue(client *redis.Client, prefix string, lease time.Duration) *ArchiveQueue {
	if prefix == "" {
		prefix = "archive"
	}
	if lease == 0 {
		lease = 30 * time.Second
	}
	return &ArchiveQueue{
		client:      client,
		readyKey:    prefix + ":ready",
		inflightKey: prefix + ":inflight",
		attemptsKey: prefix + ":attempts",
		deadKey:     prefix + ":dead",
		lease:       lease,
	}
}

// Enqueue appends a job id to the ready list.
func (q *ArchiveQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, q.readyKey, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue archive %s: %w", jobID, err)
	}
	return nil
}

// DequeueWithLease pops the next id and places it in flight until the lease
// expires. It returns "" when nothing is ready, along with the attempt number.
func (q *ArchiveQueue) DequeueWithLease(ctx context.Context) (string, int, error) {
	deadline := time.Now().Add(q.lease).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey, q.attemptsKey}, deadline).Result()
	if err == redis.Nil {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("dequeue archive: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return "", 0, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	jobID, _ := arr[0].(string)
	attempt, _ := arr[1].(int64)
	return jobID, int(attempt), nil
}

// Ack drops a completed id from in-flight tracking.
func (q *ArchiveQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.HDel(ctx, q.attemptsKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// DeadLetter moves an in-flight id to the dead list.
func (q *ArchiveQueue) DeadLetter(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.HDel(ctx, q.attemptsKey, jobID)
	pipe.RPush(ctx, q.deadKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *ArchiveQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Depth returns the number of ready ids.
func (q *ArchiveQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// DeadPeek reads the oldest dead-lettered ids.
func (q *ArchiveQueue) DeadPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.deadKey, 0, count-1).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if not job then
  return nil
end
redis.call('ZADD', KEYS[2], ARGV[1], job)
local attempt = redis.call('HINCRBY', KEYS[3], job, 1)
return {job, attempt}
`)
