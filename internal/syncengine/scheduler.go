package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers full syncs on a fixed cadence. A tick that lands
// while a run is still executing is skipped, not queued.
type Scheduler struct {
	engine   *Engine
	cron     *cron.Cron
	interval time.Duration
	timeout  time.Duration
	started  bool
	log      *zap.Logger
}

// NewScheduler creates a scheduler around the engine.
func NewScheduler(engine *Engine, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		cron:     cron.New(),
		interval: interval,
		timeout:  10 * time.Minute,
		log:      log,
	}
}

// Start registers the periodic job and begins ticking. Starting an
// already-running scheduler is a no-op.
func (s *Scheduler) Start() error {
	if s.started {
		s.log.Warn("sync scheduler already started")
		return nil
	}
	s.started = true
	_, err := s.cron.AddFunc("@every "+s.interval.String(), s.run)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("sync scheduler started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := s.engine.SyncAll(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.log.Debug("scheduled sync skipped, previous run still executing")
	case errors.Is(err, ErrServerUnreachable):
		s.log.Info("scheduled sync skipped, server unreachable")
	case err != nil:
		s.log.Error("scheduled sync failed", zap.Error(err))
	default:
		s.log.Info("scheduled sync finished",
			zap.Bool("success", summary.Success),
			zap.Int("records", summary.RecordsProcessed))
	}
}

// Stop halts the ticker and waits for a running job to return.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info("sync scheduler stopped")
}
