// Package scheduler runs the host idle loop: every tick it lets the gateway
// flush queues and sweep timeouts, and now and then it prunes the journal.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/switchyard/internal/events"
)

const (
	defaultTickInterval = 50 * time.Millisecond
	defaultPruneEvery   = time.Hour
)

// Config controls tick and prune cadence.
type Config struct {
	TickInterval time.Duration
	// PruneEvery is how often the journal is pruned. Zero means hourly.
	PruneEvery time.Duration
	// Retention is passed to the Pruner. Zero disables pruning.
	Retention time.Duration
}

// Scheduler owns the idle loop goroutine.
type Scheduler struct {
	cfg    Config
	idle   IdleHandler
	pruner Pruner
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time

	lastPrune time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler. pruner and hub may be nil.
func New(cfg Config, idle IdleHandler, pruner Pruner, hub events.Publisher, logger *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.PruneEvery <= 0 {
		cfg.PruneEvery = defaultPruneEvery
	}
	return &Scheduler{
		cfg:    cfg,
		idle:   idle,
		pruner: pruner,
		events: hub,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", "tick_interval", s.cfg.TickInterval.String())
	s.wg.Add(1)
	go s.tickLoop(ctx)
}

// Stop gracefully stops the scheduler. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx, s.now())
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs one idle pass.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.idle != nil {
		s.idle.OnIdleTick(now)
	}

	if s.pruner == nil || s.cfg.Retention <= 0 {
		return
	}
	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < s.cfg.PruneEvery {
		return
	}
	s.lastPrune = now

	n, err := s.pruner.Prune(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.Error("Failed to prune journal", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Pruned journal", "rows", n, "retention", s.cfg.Retention.String())
		if s.events != nil {
			s.events.Publish("journal.pruned", map[string]any{"rows": n})
		}
	}
}
