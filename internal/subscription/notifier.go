// ABOUTME: Fans out one prompt.updated event per subscriber when a version is published
// ABOUTME: Sends are bounded per recipient and never fail the publish that triggered them

package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/prompt-forge/internal/metrics"
	"github.com/2389/prompt-forge/internal/store"
	"github.com/2389/prompt-forge/internal/transport"
)

// Priority tags carried by change notifications.
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const (
	DefaultSendTimeout    = 5 * time.Second
	DefaultMaxConcurrency = 16
)

// ErrInvalidPriority is returned for priorities outside the fixed set.
var ErrInvalidPriority = errors.New("invalid priority")

// ParsePriority returns the canonical priority for p. Empty means normal.
func ParsePriority(p string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "":
		return PriorityNormal, nil
	case PriorityLow:
		return PriorityLow, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityCritical:
		return PriorityCritical, nil
	default:
		return "", fmt.Errorf("%w %q: must be one of low, normal, high, critical", ErrInvalidPriority, p)
	}
}

// Change describes a committed version. OldVersion is 0 for the first version.
type Change struct {
	PromptID   string
	Slug       string
	OldVersion int
	NewVersion int
	ChangeNote string
	Priority   string
}

// Result summarizes one fan-out.
type Result struct {
	Audience  int
	Delivered int
	Failed    int
}

// Audience lists the agents interested in a prompt.
type Audience interface {
	ListSubscribers(ctx context.Context, promptID string) ([]*store.Subscription, error)
}

// NotifierOptions configures a Notifier. Zero values select defaults.
type NotifierOptions struct {
	SendTimeout    time.Duration
	MaxConcurrency int
	SubjectPrefix  string
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Notifier delivers change events to every subscriber of a prompt.
type Notifier struct {
	audience  Audience
	publisher transport.Publisher
	opts      NotifierOptions
	logger    *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewNotifier creates a Notifier that computes audiences with a and sends through p.
func NewNotifier(a Audience, p transport.Publisher, logger *slog.Logger, opts NotifierOptions) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = transport.DefaultSubjectPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Notifier{
		audience:  a,
		publisher: p,
		opts:      opts,
		logger:    logger.With("component", "notifier"),
	}
}

// Notify sends one event per current subscriber of change.PromptID and waits
// for every send to finish. Each send gets its own timeout; a failed send is
// logged and counted but does not affect the others.
func (n *Notifier) Notify(ctx context.Context, change Change) Result {
	start := time.Now()

	priority, err := ParsePriority(change.Priority)
	if err != nil {
		n.logger.Warn("unknown priority, using normal", "priority", change.Priority, "slug", change.Slug)
		priority = PriorityNormal
	}

	subs, err := n.audience.ListSubscribers(ctx, change.PromptID)
	if err != nil {
		n.logger.Error("subscription.notify_failed",
			"slug", change.Slug,
			"prompt_id", change.PromptID,
			"error", fmt.Errorf("listing subscribers: %w", err))
		return Result{}
	}

	payload := transport.PromptUpdated{
		Slug:       change.Slug,
		PromptID:   change.PromptID,
		OldVersion: change.OldVersion,
		NewVersion: change.NewVersion,
		ChangeNote: change.ChangeNote,
		Priority:   priority,
	}

	var delivered, failed atomic.Int64
	sem := make(chan struct{}, n.opts.MaxConcurrency)
	var wg sync.WaitGroup

	for _, sub := range subs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			failed.Add(1)
			n.metrics().NotificationFailed()
			n.logger.Warn("subscription.notify_failed",
				"slug", change.Slug,
				"agent_id", sub.AgentID,
				"error", ctx.Err())
			continue
		}

		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := n.send(ctx, agentID, payload); err != nil {
				failed.Add(1)
				n.metrics().NotificationFailed()
				n.logger.Warn("subscription.notify_failed",
					"slug", change.Slug,
					"agent_id", agentID,
					"error", err)
				return
			}
			delivered.Add(1)
			n.metrics().NotificationSent()
		}(sub.AgentID)
	}
	wg.Wait()

	result := Result{
		Audience:  len(subs),
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
	}
	n.metrics().FanoutCompleted(time.Since(start))
	n.logger.Info("subscription.notified",
		"slug", change.Slug,
		"old_version", change.OldVersion,
		"new_version", change.NewVersion,
		"priority", priority,
		"audience", result.Audience,
		"delivered", result.Delivered,
		"failed", result.Failed)
	return result
}

func (n *Notifier) send(ctx context.Context, agentID string, payload transport.PromptUpdated) error {
	ctx, cancel := context.WithTimeout(ctx, n.opts.SendTimeout)
	defer cancel()

	event := &transport.Event{
		ID:      uuid.New().String(),
		Type:    transport.EventTypePromptUpdated,
		Subject: transport.Subject(n.opts.SubjectPrefix, agentID),
		AgentID: agentID,
		Data:    payload,
		Time:    n.opts.Now().UTC(),
	}
	return n.publisher.Publish(ctx, event)
}

// Dispatch runs Notify in the background, detached from ctx's cancellation so
// the caller's request can finish first. It is a no-op after Close.
func (n *Notifier) Dispatch(ctx context.Context, change Change) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.logger.Warn("notifier closed, dropping notification", "slug", change.Slug, "new_version", change.NewVersion)
		return
	}
	n.pending.Add(1)
	n.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer n.pending.Done()
		n.Notify(detached, change)
	}()
}

// Close stops accepting dispatches and waits for in-flight fan-outs until ctx is done.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for notifications: %w", ctx.Err())
	}
}

func (n *Notifier) metrics() *metrics.Metrics {
	return n.opts.Metrics
}
