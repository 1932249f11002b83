package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/premarket/internal/domain"
)

const archiveLockKey = "archive:run"

// ArchiveConfig controls the scheduled export.
type ArchiveConfig struct {
	// Schedule is a standard five-field cron expression, evaluated in UTC.
	Schedule string
	// Retention keeps records newer than now-Retention out of the archive.
	Retention time.Duration
}

// ArchiveResult counts the records exported by one run.
type ArchiveResult struct {
	Cutoff time.Time `json:"cutoff"`
	Orders int64     `json:"orders"`
	Offers int64     `json:"offers"`
	Audit  int64     `json:"audit"`
}

// ArchiveJob copies terminal orders, offers and audit rows to cold storage on
// a cron schedule.
type ArchiveJob struct {
	archiver domain.Archiver
	locks    domain.LockManager
	cfg      ArchiveConfig
	clock    func() time.Time
	logger   *slog.Logger
}

// NewArchiveJob creates an ArchiveJob. locks may be nil.
func NewArchiveJob(archiver domain.Archiver, locks domain.LockManager, cfg ArchiveConfig, logger *slog.Logger) *ArchiveJob {
	if cfg.Schedule == "" {
		cfg.Schedule = "15 3 * * *"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &ArchiveJob{
		archiver: archiver,
		locks:    locks,
		cfg:      cfg,
		clock:    time.Now,
		logger:   logger.With(slog.String("component", "archive_job")),
	}
}

// Run schedules RunOnce and blocks until ctx is cancelled, then waits for a
// run in progress to finish.
func (j *ArchiveJob) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(j.cfg.Schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("archive: schedule %q: %w", j.cfg.Schedule, err)
	}

	c.Start()
	j.logger.InfoContext(ctx, "archive job scheduled",
		slog.String("schedule", j.cfg.Schedule),
		slog.Duration("retention", j.cfg.Retention),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("archive job stopped")
	return ctx.Err()
}

// RunOnce archives everything that closed before now minus the retention.
func (j *ArchiveJob) RunOnce(ctx context.Context) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: j.clock().UTC().Add(-j.cfg.Retention).Truncate(time.Second)}

	if j.locks != nil {
		unlock, err := j.locks.Acquire(ctx, archiveLockKey, time.Hour)
		if errors.Is(err, domain.ErrLockHeld) {
			j.logger.InfoContext(ctx, "archive skipped, lock held elsewhere")
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("archive: acquire lock: %w", err)
		}
		defer unlock()
	}

	var err error
	if res.Orders, err = j.archiver.ArchiveOrders(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archive: orders: %w", err)
	}
	if res.Offers, err = j.archiver.ArchiveOffers(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archive: offers: %w", err)
	}
	if res.Audit, err = j.archiver.ArchiveAudit(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archive: audit: %w", err)
	}

	j.logger.InfoContext(ctx, "archive run complete",
		slog.Time("cutoff", res.Cutoff),
		slog.Int64("orders", res.Orders),
		slog.Int64("offers", res.Offers),
		slog.Int64("audit", res.Audit),
	)
	return res, nil
}

// ValidateSchedule reports whether spec parses as a five-field cron
// expression.
func ValidateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}
