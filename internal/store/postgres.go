package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"agency-ops/internal/lifecycle"
	"agency-ops/internal/models"
)

// Postgres wraps pgxpool for job and status history persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for health probes.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, admin_id, vendor_id, project_id, title, status, auto_start_on_vendor_acceptance, created_at, updated_at`

const historyColumns = `id, job_id, old_status, new_status, changed_at, changed_by, comment, auto_transitioned`

// InTx implements lifecycle.Store. Jobs loaded through the Tx are locked FOR UPDATE,
// so concurrent transitions on the same job serialise on the row lock.
func (s *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }() // safe no-op on commit

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetJob fetches a job visible under scope.
func (s *Postgres) GetJob(ctx context.Context, id string, scope lifecycle.Scope) (models.Job, error) {
	pred, err := scopePredicate(scope)
	if err != nil {
		return models.Job{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND `+pred, id, scope.CallerID)
	return scanJob(row)
}

// Timeline returns the job's history ordered by changed_at, then id.
func (s *Postgres) Timeline(ctx context.Context, id string, scope lifecycle.Scope) ([]models.StatusHistoryEntry, error) {
	if _, err := s.GetJob(ctx, id, scope); err != nil {
		return nil, err
	}
	return s.history(ctx, id)
}

// JobWithHistory fetches a job and its full history without an ownership filter.
func (s *Postgres) JobWithHistory(ctx context.Context, id string) (models.Job, []models.StatusHistoryEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		return models.Job{}, nil, err
	}
	history, err := s.history(ctx, id)
	if err != nil {
		return models.Job{}, nil, err
	}
	return job, history, nil
}

func (s *Postgres) history(ctx context.Context, jobID string) ([]models.StatusHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+historyColumns+`
		FROM job_status_history
		WHERE job_id = $1
		ORDER BY changed_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []models.StatusHistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history: %w", err)
	}
	return out, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockJob(ctx context.Context, id string, scope lifecycle.Scope) (models.Job, error) {
	pred, err := scopePredicate(scope)
	if err != nil {
		return models.Job{}, err
	}
	row := t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND `+pred+` FOR UPDATE`, id, scope.CallerID)
	return scanJob(row)
}

func (t *pgTx) SetStatus(ctx context.Context, id string, status models.Status) (models.Job, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+jobColumns, id, string(status))
	job, err := scanJob(row)
	if errors.Is(err, lifecycle.ErrNotFound) {
		return models.Job{}, fmt.Errorf("update job %s: no such row", id)
	}
	return job, err
}

// AppendHistory inserts a history row. changed_at uses clock_timestamp() so
// rows written in the same transaction keep distinct, increasing times.
func (t *pgTx) AppendHistory(ctx context.Context, e models.StatusHistoryEntry) (models.StatusHistoryEntry, error) {
	var oldStatus pgtype.Text
	if e.OldStatus != nil {
		oldStatus = pgtype.Text{String: string(*e.OldStatus), Valid: true}
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO job_status_history (job_id, old_status, new_status, changed_at, changed_by, comment, auto_transitioned)
		VALUES ($1, $2, $3, clock_timestamp(), $4, $5, $6)
		RETURNING id, changed_at
	`, e.JobID, oldStatus, string(e.NewStatus), string(e.ChangedBy), e.Comment, e.AutoTransitioned).Scan(&e.ID, &e.ChangedAt)
	if err != nil {
		return models.StatusHistoryEntry{}, fmt.Errorf("insert status history: %w", err)
	}
	return e, nil
}

func (t *pgTx) InsertJob(ctx context.Context, job models.Job) (models.Job, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO jobs (id, admin_id, vendor_id, project_id, title, status, auto_start_on_vendor_acceptance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING `+jobColumns,
		job.ID, job.AdminID, job.VendorID, job.ProjectID, job.Title, string(job.Status), job.AutoStartOnVendorAcceptance)
	inserted, err := scanJob(row)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return inserted, nil
}

func (t *pgTx) DeleteJob(ctx context.Context, id string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func scopePredicate(scope lifecycle.Scope) (string, error) {
	switch scope.Actor {
	case models.ActorAdmin:
		return "admin_id = $2", nil
	case models.ActorVendor:
		return "vendor_id = $2", nil
	default:
		return "", lifecycle.ErrNotFound
	}
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var vendorID, projectID pgtype.Text
	var status string
	if err := row.Scan(&job.ID, &job.AdminID, &vendorID, &projectID, &job.Title, &status, &job.AutoStartOnVendorAcceptance, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, lifecycle.ErrNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.Status(status)
	job.VendorID = textPtr(vendorID)
	job.ProjectID = textPtr(projectID)
	return job, nil
}

func scanHistory(row pgx.Row) (models.StatusHistoryEntry, error) {
	var e models.StatusHistoryEntry
	var oldStatus, comment pgtype.Text
	var newStatus, changedBy string
	if err := row.Scan(&e.ID, &e.JobID, &oldStatus, &newStatus, &e.ChangedAt, &changedBy, &comment, &e.AutoTransitioned); err != nil {
		return models.StatusHistoryEntry{}, fmt.Errorf("scan status history: %w", err)
	}
	if oldStatus.Valid {
		s := models.Status(oldStatus.String)
		e.OldStatus = &s
	}
	e.NewStatus = models.Status(newStatus)
	e.ChangedBy = models.Actor(changedBy)
	e.Comment = textPtr(comment)
	return e, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
