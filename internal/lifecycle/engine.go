package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"agency-ops/internal/models"
)

const autoStartComment = "Started automatically on vendor acceptance"

// Engine is the only writer of job status and status history.
type Engine struct {
	store  Store
	logger *slog.Logger
	newID  func() string
}

// New constructs an engine over st. A nil logger falls back to slog.Default.
func New(st Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		logger: logger,
		newID:  func() string { return uuid.New().String() },
	}
}

// NewJob collects the inputs for creating a job.
type NewJob struct {
	Title                       string
	VendorID                    *string
	ProjectID                   *string
	AutoStartOnVendorAcceptance bool
}

// CreateJob inserts a Draft job owned by adminID along with its creation history row.
func (e *Engine) CreateJob(ctx context.Context, adminID string, p NewJob) (models.Job, error) {
	var out models.Job
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		job, err := tx.InsertJob(ctx, models.Job{
			ID:                          e.newID(),
			AdminID:                     adminID,
			VendorID:                    p.VendorID,
			ProjectID:                   p.ProjectID,
			Title:                       p.Title,
			Status:                      models.StatusDraft,
			AutoStartOnVendorAcceptance: p.AutoStartOnVendorAcceptance,
		})
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if _, err := tx.AppendHistory(ctx, models.StatusHistoryEntry{
			JobID:     job.ID,
			NewStatus: models.StatusDraft,
			ChangedBy: models.ActorAdmin,
		}); err != nil {
			return fmt.Errorf("append creation history: %w", err)
		}
		out = job
		return nil
	})
	if err != nil {
		return models.Job{}, storageErr("create job", err)
	}
	return out, nil
}

// DeleteJob removes an admin-owned job and its history.
func (e *Engine) DeleteJob(ctx context.Context, jobID, adminID string) error {
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockJob(ctx, jobID, AdminScope(adminID)); err != nil {
			return err
		}
		return tx.DeleteJob(ctx, jobID)
	})
	return storageErr("delete job", err)
}

// GetJob returns the job if it is visible under scope.
func (e *Engine) GetJob(ctx context.Context, jobID string, scope Scope) (models.Job, error) {
	job, err := e.store.GetJob(ctx, jobID, scope)
	if err != nil {
		return models.Job{}, storageErr("get job", err)
	}
	return job, nil
}

// Execute loads the job under the caller's scope, validates the transition
// against the status graph, and writes the new status plus one history row
// in a single transaction. changed_by is the scope's actor.
func (e *Engine) Execute(ctx context.Context, jobID string, by Scope, to models.Status, comment *string, auto bool) (models.Job, error) {
	return e.inLockedJob(ctx, "execute", jobID, by, func(ctx context.Context, tx Tx, job models.Job) (models.Job, error) {
		return e.apply(ctx, tx, job, by.Actor, to, comment, auto)
	})
}

// ChangeJobStatus moves an admin-owned job to any status the graph permits.
func (e *Engine) ChangeJobStatus(ctx context.Context, jobID, adminID string, to models.Status, comment *string) (models.Job, error) {
	return e.Execute(ctx, jobID, AdminScope(adminID), to, comment, false)
}

// StartJob moves an admin-owned job from Offer Accepted or Hold to Started.
func (e *Engine) StartJob(ctx context.Context, jobID, adminID string, comment *string) (models.Job, error) {
	return e.inLockedJob(ctx, "start job", jobID, AdminScope(adminID), func(ctx context.Context, tx Tx, job models.Job) (models.Job, error) {
		if err := guard(job, "start job", models.StatusStarted, models.StatusOfferAccepted, models.StatusHold); err != nil {
			return job, err
		}
		return e.apply(ctx, tx, job, models.ActorAdmin, models.StatusStarted, comment, false)
	})
}

// VendorAcceptOffer accepts an offer on a job assigned to vendorID. When the
// job is configured to auto-start, acceptance and start are written together
// as two automatic history rows and the job ends at Started.
func (e *Engine) VendorAcceptOffer(ctx context.Context, jobID, vendorID string, comment *string) (models.Job, error) {
	return e.inLockedJob(ctx, "accept offer", jobID, VendorScope(vendorID), func(ctx context.Context, tx Tx, job models.Job) (models.Job, error) {
		if err := guard(job, "accept offer", models.StatusOfferAccepted, models.StatusOfferedToVendor); err != nil {
			return job, err
		}
		if !job.AutoStartOnVendorAcceptance {
			return e.apply(ctx, tx, job, models.ActorVendor, models.StatusOfferAccepted, comment, false)
		}
		accepted, err := e.apply(ctx, tx, job, models.ActorVendor, models.StatusOfferAccepted, comment, true)
		if err != nil {
			return job, err
		}
		note := autoStartComment
		return e.apply(ctx, tx, accepted, models.ActorAdmin, models.StatusStarted, &note, true)
	})
}

// VendorRejectOffer rejects an offer on a job assigned to vendorID.
func (e *Engine) VendorRejectOffer(ctx context.Context, jobID, vendorID string, comment *string) (models.Job, error) {
	return e.inLockedJob(ctx, "reject offer", jobID, VendorScope(vendorID), func(ctx context.Context, tx Tx, job models.Job) (models.Job, error) {
		if err := guard(job, "reject offer", models.StatusOfferRejected, models.StatusOfferedToVendor); err != nil {
			return job, err
		}
		return e.apply(ctx, tx, job, models.ActorVendor, models.StatusOfferRejected, comment, false)
	})
}

// Timeline returns the job's status history projection, oldest first.
func (e *Engine) Timeline(ctx context.Context, jobID string, scope Scope) ([]models.TimelineEntry, error) {
	history, err := e.store.Timeline(ctx, jobID, scope)
	if err != nil {
		return nil, storageErr("timeline", err)
	}
	return models.Timeline(history), nil
}

// inLockedJob runs fn against the row-locked job inside one transaction.
func (e *Engine) inLockedJob(ctx context.Context, op, jobID string, scope Scope, fn func(context.Context, Tx, models.Job) (models.Job, error)) (models.Job, error) {
	var out models.Job
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		job, err := tx.LockJob(ctx, jobID, scope)
		if err != nil {
			return err
		}
		out, err = fn(ctx, tx, job)
		return err
	})
	if err != nil {
		return models.Job{}, storageErr(op, err)
	}
	return out, nil
}

// apply performs one validated transition on a locked job.
func (e *Engine) apply(ctx context.Context, tx Tx, job models.Job, by models.Actor, to models.Status, comment *string, auto bool) (models.Job, error) {
	if err := Validate(job.Status, to); err != nil {
		return job, err
	}
	previous := job.Status

	updated, err := tx.SetStatus(ctx, job.ID, to)
	if err != nil {
		return job, fmt.Errorf("update job status: %w", err)
	}
	if _, err := tx.AppendHistory(ctx, models.StatusHistoryEntry{
		JobID:            job.ID,
		OldStatus:        &previous,
		NewStatus:        to,
		ChangedBy:        by,
		Comment:          comment,
		AutoTransitioned: auto,
	}); err != nil {
		return job, fmt.Errorf("append status history: %w", err)
	}

	e.logger.DebugContext(ctx, "job status changed",
		slog.String("job_id", job.ID),
		slog.String("from", string(previous)),
		slog.String("to", string(to)),
		slog.String("changed_by", string(by)),
		slog.Bool("auto", auto),
	)
	return updated, nil
}

// guard enforces an operation's own source-status restriction, which is
// narrower than the graph.
func guard(job models.Job, action string, to models.Status, from ...models.Status) error {
	if job.Status == to {
		return alreadyIn(to)
	}
	if !slices.Contains(from, job.Status) {
		return precondition(action, job.Status, to, from...)
	}
	return nil
}
