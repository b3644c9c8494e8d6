// ABOUTME: Tests for the reclamation Sweeper
// ABOUTME: Covers the retention cutoff, failure tolerance, non-overlap and lifecycle

package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/prompt-forge/internal/store"
)

func TestSweeper_RemovesOnlyExpired(t *testing.T) {
	s := store.NewMockStore()
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	p := newTestPrompt(t, s, "aging")
	ctx := context.Background()

	_, _, err := s.UpsertSubscription(ctx, p.ID, "old-agent", now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, _, err = s.UpsertSubscription(ctx, p.ID, "recent-agent", now.Add(-24*time.Hour))
	require.NoError(t, err)

	sw := NewSweeper(s, discardLogger(), SweeperOptions{
		Retention: 7 * 24 * time.Hour,
		Now:       func() time.Time { return now },
	})

	deleted, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	subs, err := s.ListSubscriptionsByPrompt(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "recent-agent", subs[0].AgentID)
}

func TestSweeper_RefreshedSubscriptionSurvives(t *testing.T) {
	s := store.NewMockStore()
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	p := newTestPrompt(t, s, "refreshed")
	ctx := context.Background()

	_, _, err := s.UpsertSubscription(ctx, p.ID, "agent-a", now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	_, _, err = s.UpsertSubscription(ctx, p.ID, "agent-a", now.Add(-time.Second))
	require.NoError(t, err)

	sw := NewSweeper(s, discardLogger(), SweeperOptions{Now: func() time.Time { return now }})
	deleted, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

// scriptedReclaimer returns queued results and records calls.
type scriptedReclaimer struct {
	mu       sync.Mutex
	results  []error
	calls    atomic.Int32
	running  atomic.Int32
	overlaps atomic.Int32
	delay    time.Duration
}

func (r *scriptedReclaimer) DeleteSubscriptionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.running.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	defer r.running.Add(-1)
	r.calls.Add(1)

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return 0, nil
	}
	err := r.results[0]
	r.results = r.results[1:]
	return 0, err
}

func TestSweeper_FailureDoesNotStopLoop(t *testing.T) {
	r := &scriptedReclaimer{results: []error{store.ErrUnavailable, errors.New("disk"), nil}}
	sw := NewSweeper(r, discardLogger(), SweeperOptions{Interval: 10 * time.Millisecond})

	sw.Start(context.Background())
	assert.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	sw.Stop()
}

func TestSweeper_RunsImmediatelyOnStart(t *testing.T) {
	r := &scriptedReclaimer{}
	sw := NewSweeper(r, discardLogger(), SweeperOptions{Interval: time.Hour})

	sw.Start(context.Background())
	defer sw.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSweeper_SweepsNeverOverlap(t *testing.T) {
	r := &scriptedReclaimer{delay: 30 * time.Millisecond}
	sw := NewSweeper(r, discardLogger(), SweeperOptions{Interval: 5 * time.Millisecond})

	sw.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	sw.Stop()

	assert.Zero(t, r.overlaps.Load())
	assert.GreaterOrEqual(t, r.calls.Load(), int32(2))
}

func TestSweeper_StopJoinsLoop(t *testing.T) {
	r := &scriptedReclaimer{}
	sw := NewSweeper(r, discardLogger(), SweeperOptions{Interval: time.Hour})

	sw.Start(context.Background())
	sw.Start(context.Background())

	done := make(chan struct{})
	go func() {
		sw.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// second Stop is harmless
	sw.Stop()
}

func TestSweeper_RunOnceBoundedByTimeout(t *testing.T) {
	blocking := reclaimerFunc(func(ctx context.Context, cutoff time.Time) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	sw := NewSweeper(blocking, discardLogger(), SweeperOptions{Timeout: 20 * time.Millisecond})

	_, err := sw.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type reclaimerFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f reclaimerFunc) DeleteSubscriptionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}
