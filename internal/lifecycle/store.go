package lifecycle

import (
	"context"

	"agency-ops/internal/models"
)

// Scope is the caller's ownership predicate: admin_id = CallerID for admins,
// vendor_id = CallerID for vendors.
type Scope struct {
	Actor    models.Actor
	CallerID string
}

func AdminScope(adminID string) Scope {
	return Scope{Actor: models.ActorAdmin, CallerID: adminID}
}

func VendorScope(vendorID string) Scope {
	return Scope{Actor: models.ActorVendor, CallerID: vendorID}
}

// Matches reports whether job is visible to the caller.
func (s Scope) Matches(job models.Job) bool {
	if s.CallerID == "" {
		return false
	}
	switch s.Actor {
	case models.ActorAdmin:
		return job.AdminID == s.CallerID
	case models.ActorVendor:
		return job.VendorID != nil && *job.VendorID == s.CallerID
	default:
		return false
	}
}

// Tx is the set of writes available inside one transaction. Implementations
// must hold a row lock on every job returned by LockJob until the transaction ends.
type Tx interface {
	// LockJob loads the job filtered by id and scope, returning ErrNotFound when nothing matches.
	LockJob(ctx context.Context, id string, scope Scope) (models.Job, error)
	SetStatus(ctx context.Context, id string, status models.Status) (models.Job, error)
	AppendHistory(ctx context.Context, entry models.StatusHistoryEntry) (models.StatusHistoryEntry, error)
	InsertJob(ctx context.Context, job models.Job) (models.Job, error)
	// DeleteJob removes the job together with its whole history.
	DeleteJob(ctx context.Context, id string) error
}

// Store persists jobs and their status history.
type Store interface {
	// InTx runs fn in a single transaction. A nil return commits, anything else rolls back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetJob(ctx context.Context, id string, scope Scope) (models.Job, error)
	// Timeline returns the job's history ordered oldest first, or ErrNotFound if the
	// job is not visible under scope.
	Timeline(ctx context.Context, id string, scope Scope) ([]models.StatusHistoryEntry, error)
	// JobWithHistory is an unscoped read used by the archiver.
	JobWithHistory(ctx context.Context, id string) (models.Job, []models.StatusHistoryEntry, error)
}
