// ABOUTME: Background reclamation of subscriptions idle past the retention window
// ABOUTME: Sweeps never overlap; a tick that arrives during a sweep is skipped

package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/prompt-forge/internal/metrics"
)

const (
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepInterval = time.Hour
	DefaultSweepTimeout  = 30 * time.Second
)

// Reclaimer deletes subscriptions by age.
type Reclaimer interface {
	DeleteSubscriptionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweeperOptions configures a Sweeper. Zero values select defaults.
type SweeperOptions struct {
	Retention time.Duration
	Interval  time.Duration
	Timeout   time.Duration
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Sweeper periodically removes subscriptions whose last pull is older than the retention window.
type Sweeper struct {
	reclaimer Reclaimer
	opts      SweeperOptions
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper over r.
func NewSweeper(r Reclaimer, logger *slog.Logger, opts SweeperOptions) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSweepTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{
		reclaimer: r,
		opts:      opts,
		logger:    logger.With("component", "sweeper"),
	}
}

// RunOnce performs a single sweep bounded by the sweep timeout.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	cutoff := s.opts.Now().Add(-s.opts.Retention)

	deleted, err := s.reclaimer.DeleteSubscriptionsOlderThan(ctx, cutoff)
	s.opts.Metrics.SweepCompleted(deleted, time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("sweeping subscriptions: %w", err)
	}

	s.logger.Info("subscription.sweep",
		"deleted", deleted,
		"cutoff", cutoff.UTC().Format(time.RFC3339),
		"duration", time.Since(start))
	return deleted, nil
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
// Failures are logged and the loop continues.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		"interval", s.opts.Interval,
		"retention", s.opts.Retention)

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}

		// drop a tick that fired while the sweep was running
		select {
		case <-ticker.C:
			s.logger.Debug("skipped tick during running sweep")
		default:
		}

		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Start launches Run in a goroutine owned by the Sweeper. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	done := s.done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop cancels the loop started by Start and waits for it to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
