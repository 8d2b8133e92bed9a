package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"agency-ops/internal/config"
	"agency-ops/internal/lifecycle"
	"agency-ops/internal/models"
	"agency-ops/internal/queue"
	"agency-ops/internal/telemetry"
)

// JobSource reads a job and its full history.
type JobSource interface {
	JobWithHistory(ctx context.Context, id string) (models.Job, []models.StatusHistoryEntry, error)
}

// Processor drains the archive queue and uploads one document per job.
// It only reads jobs and history.
type Processor struct {
	cfg      config.Config
	queue    *queue.ArchiveQueue
	source   JobSource
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time
}

func NewProcessor(cfg config.Config, q *queue.ArchiveQueue, src JobSource, up Uploader, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ArchiveMaxAttempts <= 0 {
		cfg.ArchiveMaxAttempts = 5
	}
	if cfg.ArchivePollInterval <= 0 {
		cfg.ArchivePollInterval = time.Second
	}
	return &Processor{
		cfg:      cfg,
		queue:    q,
		source:   src,
		uploader: up,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), 100); err == nil && len(reclaimed) > 0 {
			p.logger.Info("requeued expired archive leases", slog.Int("count", len(reclaimed)))
		}
		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.ArchiveDepth.Set(float64(depth))
		}

		processed, err := p.ProcessNext(ctx)
		if err != nil {
			failures++
			wait := backoffWithJitter(p.cfg.ArchivePollInterval, time.Minute, failures)
			p.logger.Warn("archive queue unavailable", slog.Any("error", err), slog.Duration("retry_in", wait))
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		failures = 0
		if !processed {
			if err := sleep(ctx, p.cfg.ArchivePollInterval); err != nil {
				return err
			}
		}
	}
}

// ProcessNext handles at most one queued id. It reports whether an id was
// taken; a returned error means the queue itself could not be read.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	jobID, attempt, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, err
	}
	if jobID == "" {
		return false, nil
	}

	log := p.logger.With(slog.String("job_id", jobID), slog.Int("attempt", attempt))
	location, err := p.archive(ctx, jobID)
	switch {
	case err == nil:
		if err := p.queue.Ack(ctx, jobID); err != nil {
			log.Warn("ack archive entry", slog.Any("error", err))
		}
		telemetry.ArchiveSuccess.Inc()
		log.Info("job history archived", slog.String("location", location))
	case errors.Is(err, errSkip):
		_ = p.queue.Ack(ctx, jobID)
		log.Info("archive entry skipped", slog.Any("reason", err))
	case attempt >= p.cfg.ArchiveMaxAttempts:
		_ = p.queue.DeadLetter(ctx, jobID)
		telemetry.ArchiveDead.Inc()
		log.Error("archive entry dead-lettered", slog.Any("error", err))
	default:
		// Leave the lease in place; it is requeued once it expires.
		telemetry.ArchiveFailures.Inc()
		log.Warn("archive attempt failed", slog.Any("error", err))
	}
	return true, nil
}

var errSkip = errors.New("skip")

func (p *Processor) archive(ctx context.Context, jobID string) (string, error) {
	job, history, err := p.source.JobWithHistory(ctx, jobID)
	if errors.Is(err, lifecycle.ErrNotFound) {
		return "", fmt.Errorf("%w: job no longer exists", errSkip)
	}
	if err != nil {
		return "", fmt.Errorf("load job history: %w", err)
	}
	if !lifecycle.IsTerminal(job.Status) {
		return "", fmt.Errorf("%w: job status %s is not terminal", errSkip, job.Status)
	}

	body, err := encode(Document{Job: job, History: history, ArchivedAt: p.now()})
	if err != nil {
		return "", err
	}
	return p.uploader.Upload(ctx, Key(job), body, "application/json")
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
