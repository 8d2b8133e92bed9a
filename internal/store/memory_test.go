package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agency-ops/internal/lifecycle"
	"agency-ops/internal/models"
)

func ptr[T any](v T) *T { return &v }

func seed(t *testing.T, m *Memory) models.Job {
	t.Helper()
	var job models.Job
	err := m.InTx(context.Background(), func(ctx context.Context, tx lifecycle.Tx) error {
		var err error
		job, err = tx.InsertJob(ctx, models.Job{ID: "job-1", AdminID: "a1", VendorID: ptr("v1"), Status: models.StatusDraft})
		if err != nil {
			return err
		}
		_, err = tx.AppendHistory(ctx, models.StatusHistoryEntry{JobID: job.ID, NewStatus: models.StatusDraft, ChangedBy: models.ActorAdmin})
		return err
	})
	require.NoError(t, err)
	return job
}

func TestMemory_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := seed(t, m)

	boom := errors.New("boom")
	err := m.InTx(ctx, func(ctx context.Context, tx lifecycle.Tx) error {
		if _, err := tx.SetStatus(ctx, job.ID, models.StatusOfferedToVendor); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, h, err := m.JobWithHistory(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Len(t, h, 1)
}

func TestMemory_ScopeFiltering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := seed(t, m)

	_, err := m.GetJob(ctx, job.ID, lifecycle.AdminScope("a1"))
	require.NoError(t, err)
	_, err = m.GetJob(ctx, job.ID, lifecycle.VendorScope("v1"))
	require.NoError(t, err)
	_, err = m.GetJob(ctx, job.ID, lifecycle.VendorScope("a1"))
	require.ErrorIs(t, err, lifecycle.ErrNotFound)
	_, err = m.GetJob(ctx, job.ID, lifecycle.Scope{Actor: "auditor", CallerID: "a1"})
	require.ErrorIs(t, err, lifecycle.ErrNotFound)
	_, err = m.Timeline(ctx, job.ID, lifecycle.AdminScope("a2"))
	require.ErrorIs(t, err, lifecycle.ErrNotFound)
}

func TestMemory_AppendHistoryChecks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)

	err := m.InTx(ctx, func(ctx context.Context, tx lifecycle.Tx) error {
		_, err := tx.AppendHistory(ctx, models.StatusHistoryEntry{JobID: "nope", NewStatus: models.StatusDraft, ChangedBy: models.ActorAdmin})
		return err
	})
	require.Error(t, err)

	err = m.InTx(ctx, func(ctx context.Context, tx lifecycle.Tx) error {
		_, err := tx.AppendHistory(ctx, models.StatusHistoryEntry{JobID: "job-1", NewStatus: models.StatusDraft, ChangedBy: "robot"})
		return err
	})
	require.Error(t, err)

	err = m.InTx(ctx, func(ctx context.Context, tx lifecycle.Tx) error {
		_, err := tx.SetStatus(ctx, "job-1", models.Status("Archived"))
		return err
	})
	require.Error(t, err)
}

func TestMemory_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := seed(t, m)

	require.NoError(t, m.InTx(ctx, func(ctx context.Context, tx lifecycle.Tx) error {
		return tx.DeleteJob(ctx, job.ID)
	}))
	_, _, err := m.JobWithHistory(ctx, job.ID)
	require.ErrorIs(t, err, lifecycle.ErrNotFound)
	assert.Empty(t, m.state.historyFor(job.ID))
}

func TestMemory_HistoryIDsIncrease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := seed(t, m)

	require.NoError(t, m.InTx(ctx, func(ctx context.Context, tx lifecycle.Tx) error {
		for _, s := range []models.Status{models.StatusOfferedToVendor, models.StatusOfferAccepted} {
			if _, err := tx.AppendHistory(ctx, models.StatusHistoryEntry{JobID: job.ID, NewStatus: s, ChangedBy: models.ActorVendor}); err != nil {
				return err
			}
		}
		return nil
	}))

	_, h, err := m.JobWithHistory(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, h, 3)
	assert.Less(t, h[0].ID, h[1].ID)
	assert.Less(t, h[1].ID, h[2].ID)
}
