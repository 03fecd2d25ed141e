package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/kalshibot/internal/config"
	"github.com/alanyoungcy/kalshibot/internal/domain"
)

// Scheduler runs the background jobs that keep the system fed and lean: the
// periodic market sync and the daily cold-storage sweep.
type Scheduler struct {
	sync       *MarketSync
	archiver   domain.Archiver
	priceStore domain.PriceStore
	cfg        config.PipelineConfig
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler. archiver may be nil when cold storage is
// not configured; the daily sweep then only prunes price history.
func NewScheduler(
	sync *MarketSync,
	archiver domain.Archiver,
	priceStore domain.PriceStore,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		sync:       sync,
		archiver:   archiver,
		priceStore: priceStore,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts the background jobs and blocks until the context is cancelled or
// a job fails hard. Context cancellation is a clean shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("pipeline starting",
		slog.Duration("market_sync_interval", s.cfg.MarketSyncInterval.Duration),
		slog.Bool("archive_enabled", s.cfg.ArchiveEnabled),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.sync.RunLoop(ctx, s.cfg.MarketSyncInterval.Duration)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("pipeline: market sync loop: %w", err)
	})

	g.Go(func() error {
		err := s.runDailySweep(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("pipeline: daily sweep: %w", err)
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("pipeline stopped")
	return nil
}

// runDailySweep waits for the configured UTC hour each day, then archives and
// prunes. Sweep failures are logged and retried the next day.
func (s *Scheduler) runDailySweep(ctx context.Context) error {
	for {
		next := nextDailyRun(time.Now().UTC(), s.cfg.ArchiveHourUTC)
		s.logger.Debug("daily sweep scheduled", slog.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.sweep(ctx)
		}
	}
}

// sweep archives records older than the retention window and prunes price
// history. Each step is independent; one failing does not block the others.
func (s *Scheduler) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.PriceRetention.Duration)
	s.logger.Info("daily sweep starting", slog.Time("cutoff", cutoff))

	if s.cfg.ArchiveEnabled && s.archiver != nil {
		steps := []struct {
			name string
			fn   func(context.Context, time.Time) (int64, error)
		}{
			{"trades", s.archiver.ArchiveTrades},
			{"signal_records", s.archiver.ArchiveSignalRecords},
			{"cycle_reports", s.archiver.ArchiveCycleReports},
			{"audit", s.archiver.ArchiveAudit},
		}
		for _, step := range steps {
			count, err := step.fn(ctx, cutoff)
			if err != nil {
				s.logger.Error("archive step failed",
					slog.String("kind", step.name),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.logger.Info("archive step complete",
				slog.String("kind", step.name),
				slog.Int64("count", count),
			)
		}
	}

	pruned, err := s.priceStore.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error("price prune failed", slog.String("error", err.Error()))
	} else {
		s.logger.Info("price history pruned", slog.Int64("rows", pruned))
	}
}

// nextDailyRun returns the next occurrence of hourUTC after now.
func nextDailyRun(now time.Time, hourUTC int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
