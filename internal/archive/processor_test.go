package archive

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agency-ops/internal/config"
	"agency-ops/internal/lifecycle"
	"agency-ops/internal/models"
	"agency-ops/internal/queue"
	"agency-ops/internal/store"
)

type failingUploader struct{ calls int }

func (f *failingUploader) Upload(context.Context, string, []byte, string) (string, error) {
	f.calls++
	return "", errors.New("bucket unavailable")
}

type fixture struct {
	queue *queue.ArchiveQueue
	mem   *store.Memory
	eng   *lifecycle.Engine
	cfg   config.Config
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := store.NewMemory()
	return fixture{
		queue: queue.NewArchiveQueue(client, "test", time.Millisecond),
		mem:   mem,
		eng:   lifecycle.New(mem, nil),
		cfg:   config.Config{ArchiveMaxAttempts: 2, ArchivePollInterval: time.Millisecond},
	}
}

func (f fixture) job(t *testing.T, cancel bool) models.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.eng.CreateJob(ctx, "admin-1", lifecycle.NewJob{Title: "archive me"})
	require.NoError(t, err)
	if cancel {
		job, err = f.eng.ChangeJobStatus(ctx, job.ID, "admin-1", models.StatusCancelled, nil)
		require.NoError(t, err)
	}
	return job
}

func TestProcessNext_ArchivesTerminalJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.job(t, true)
	dir := t.TempDir()

	p := NewProcessor(f.cfg, f.queue, f.mem, &LocalUploader{BaseDir: dir}, nil)
	require.NoError(t, f.queue.Enqueue(ctx, job.ID))

	processed, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	body, err := os.ReadFile(filepath.Join(dir, "admin-1", job.ID+".json"))
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, models.StatusCancelled, doc.Job.Status)
	require.Len(t, doc.History, 2)
	assert.Equal(t, models.StatusCancelled, doc.History[1].NewStatus)

	processed, err = p.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessNext_SkipsNonTerminalAndMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	draft := f.job(t, false)
	up := &failingUploader{}

	p := NewProcessor(f.cfg, f.queue, f.mem, up, nil)
	require.NoError(t, f.queue.Enqueue(ctx, draft.ID))
	require.NoError(t, f.queue.Enqueue(ctx, "gone"))

	for i := 0; i < 2; i++ {
		processed, err := p.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, processed)
	}
	assert.Zero(t, up.calls)

	ids, err := f.queue.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestProcessNext_DeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.job(t, true)
	up := &failingUploader{}

	p := NewProcessor(f.cfg, f.queue, f.mem, up, nil)
	require.NoError(t, f.queue.Enqueue(ctx, job.ID))

	_, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	ids, err := f.queue.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Equal(t, []string{job.ID}, ids)

	_, err = p.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, up.calls)

	dead, err := f.queue.DeadPeek(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, dead)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.cfg, f.queue, f.mem, &LocalUploader{BaseDir: t.TempDir()}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalUploaderRejectsEscape(t *testing.T) {
	up := &LocalUploader{BaseDir: t.TempDir()}
	_, err := up.Upload(context.Background(), "../outside.json", []byte("{}"), "application/json")
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "a%2Fb/job-1.json", Key(models.Job{ID: "job-1", AdminID: "a/b"}))
}

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < 2*base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}
}
