package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agency-ops/internal/lifecycle"
	"agency-ops/internal/models"
)

// Memory is an in-process store. Transactions are serialised by a single
// mutex and commit by swapping in the working copy, so a failed transaction
// leaves no trace.
type Memory struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

type memState struct {
	jobs    map[string]models.Job
	history []models.StatusHistoryEntry
	nextID  int64
}

func (s memState) clone() memState {
	jobs := make(map[string]models.Job, len(s.jobs))
	for k, v := range s.jobs {
		jobs[k] = v
	}
	history := make([]models.StatusHistoryEntry, len(s.history))
	copy(history, s.history)
	return memState{jobs: jobs, history: history, nextID: s.nextID}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		state: memState{jobs: make(map[string]models.Job)},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// InTx implements lifecycle.Store.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	work := m.state.clone()
	if err := fn(ctx, &memTx{state: &work, now: m.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	m.state = work
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string, scope lifecycle.Scope) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.state.jobs[id]
	if !ok || !scope.Matches(job) {
		return models.Job{}, lifecycle.ErrNotFound
	}
	return job, nil
}

func (m *Memory) Timeline(_ context.Context, id string, scope lifecycle.Scope) ([]models.StatusHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.state.jobs[id]
	if !ok || !scope.Matches(job) {
		return nil, lifecycle.ErrNotFound
	}
	return m.state.historyFor(id), nil
}

func (m *Memory) JobWithHistory(_ context.Context, id string) (models.Job, []models.StatusHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.state.jobs[id]
	if !ok {
		return models.Job{}, nil, lifecycle.ErrNotFound
	}
	return job, m.state.historyFor(id), nil
}

// historyFor returns the rows for id in insertion order, which is also changed_at order.
func (s memState) historyFor(id string) []models.StatusHistoryEntry {
	var out []models.StatusHistoryEntry
	for _, h := range s.history {
		if h.JobID == id {
			out = append(out, h)
		}
	}
	return out
}

type memTx struct {
	state *memState
	now   func() time.Time
}

func (t *memTx) LockJob(_ context.Context, id string, scope lifecycle.Scope) (models.Job, error) {
	job, ok := t.state.jobs[id]
	if !ok || !scope.Matches(job) {
		return models.Job{}, lifecycle.ErrNotFound
	}
	return job, nil
}

func (t *memTx) SetStatus(_ context.Context, id string, status models.Status) (models.Job, error) {
	job, ok := t.state.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("update job %s: no such row", id)
	}
	if !lifecycle.Known(status) {
		return models.Job{}, fmt.Errorf("update job %s: unknown status %q", id, status)
	}
	job.Status = status
	job.UpdatedAt = t.now()
	t.state.jobs[id] = job
	return job, nil
}

func (t *memTx) AppendHistory(_ context.Context, entry models.StatusHistoryEntry) (models.StatusHistoryEntry, error) {
	if _, ok := t.state.jobs[entry.JobID]; !ok {
		return models.StatusHistoryEntry{}, fmt.Errorf("insert history: job %s does not exist", entry.JobID)
	}
	if !entry.ChangedBy.Valid() {
		return models.StatusHistoryEntry{}, fmt.Errorf("insert history: invalid changed_by %q", entry.ChangedBy)
	}
	t.state.nextID++
	entry.ID = t.state.nextID
	entry.ChangedAt = t.now()
	t.state.history = append(t.state.history, entry)
	return entry, nil
}

func (t *memTx) InsertJob(_ context.Context, job models.Job) (models.Job, error) {
	if _, exists := t.state.jobs[job.ID]; exists {
		return models.Job{}, fmt.Errorf("insert job: duplicate id %s", job.ID)
	}
	now := t.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	t.state.jobs[job.ID] = job
	return job, nil
}

func (t *memTx) DeleteJob(_ context.Context, id string) error {
	delete(t.state.jobs, id)
	kept := t.state.history[:0]
	for _, h := range t.state.history {
		if h.JobID != id {
			kept = append(kept, h)
		}
	}
	t.state.history = kept
	return nil
}
