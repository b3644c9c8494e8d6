// ABOUTME: Subscription business logic: subscribe, unsubscribe, auto-subscribe and listings
// ABOUTME: Every call goes straight to the store; nothing is cached between calls

package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/prompt-forge/internal/metrics"
	"github.com/2389/prompt-forge/internal/store"
)

// MaxAgentIDLength bounds agent identities accepted by the manager.
const MaxAgentIDLength = 256

// DefaultAutoSubscribeTimeout bounds the auto-subscribe side effect of a content read.
const DefaultAutoSubscribeTimeout = 500 * time.Millisecond

var (
	// ErrInvalidPromptID is returned when a prompt identifier is empty.
	ErrInvalidPromptID = errors.New("prompt id is required")

	// ErrInvalidAgentID is returned when an agent identity is empty or too long.
	ErrInvalidAgentID = errors.New("agent id is required")
)

// ManagerOptions configures a Manager. Zero values select defaults.
type ManagerOptions struct {
	AutoSubscribeTimeout time.Duration
	Metrics              *metrics.Metrics
	Now                  func() time.Time
}

// Manager implements subscription operations on top of a SubscriptionStore.
type Manager struct {
	store       store.SubscriptionStore
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	autoTimeout time.Duration
}

// NewManager creates a Manager backed by s.
func NewManager(s store.SubscriptionStore, logger *slog.Logger, opts ManagerOptions) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AutoSubscribeTimeout <= 0 {
		opts.AutoSubscribeTimeout = DefaultAutoSubscribeTimeout
	}
	return &Manager{
		store:       s,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "subscriptions"),
		now:         opts.Now,
		autoTimeout: opts.AutoSubscribeTimeout,
	}
}

// NormalizeAgentID trims id and checks it is usable as an agent identity.
func NormalizeAgentID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrInvalidAgentID
	}
	if len(id) > MaxAgentIDLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidAgentID, MaxAgentIDLength)
	}
	return id, nil
}

func validate(promptID, agentID string) (string, error) {
	if strings.TrimSpace(promptID) == "" {
		return "", ErrInvalidPromptID
	}
	return NormalizeAgentID(agentID)
}

// Subscribe creates or refreshes the subscription of agentID to promptID.
// created reports whether a new row was inserted.
func (m *Manager) Subscribe(ctx context.Context, promptID, agentID string) (*store.Subscription, bool, error) {
	agentID, err := validate(promptID, agentID)
	if err != nil {
		return nil, false, err
	}

	sub, created, err := m.store.UpsertSubscription(ctx, promptID, agentID, m.now())
	if err != nil {
		return nil, false, err
	}

	m.metrics.SubscriptionUpserted(false, created)
	m.logger.Info("subscription.upserted",
		"prompt_id", promptID,
		"agent_id", agentID,
		"created", created)
	return sub, created, nil
}

// Unsubscribe removes the subscription. Removing an absent subscription succeeds.
func (m *Manager) Unsubscribe(ctx context.Context, promptID, agentID string) error {
	agentID, err := validate(promptID, agentID)
	if err != nil {
		return err
	}

	if err := m.store.DeleteSubscription(ctx, promptID, agentID); err != nil {
		return err
	}

	m.metrics.SubscriptionDeleted()
	m.logger.Info("subscription.removed", "prompt_id", promptID, "agent_id", agentID)
	return nil
}

// AutoSubscribe records that agentID pulled promptID. It is a side effect of a
// content read: it never returns an error, it gives up after the configured
// timeout, and it does nothing when agentID is empty.
func (m *Manager) AutoSubscribe(ctx context.Context, promptID, agentID string) {
	if strings.TrimSpace(agentID) == "" {
		return
	}
	agentID, err := validate(promptID, agentID)
	if err != nil {
		m.logger.Debug("auto-subscribe skipped", "prompt_id", promptID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.autoTimeout)
	defer cancel()

	_, created, err := m.store.UpsertSubscription(ctx, promptID, agentID, m.now())
	if err != nil {
		m.metrics.AutoSubscribeFailed()
		m.logger.Warn("subscription.auto_subscribe_failed",
			"prompt_id", promptID,
			"agent_id", agentID,
			"error", err)
		return
	}

	m.metrics.SubscriptionUpserted(true, created)
	m.logger.Debug("subscription.auto_subscribed",
		"prompt_id", promptID,
		"agent_id", agentID,
		"created", created)
}

// ListSubscribers returns the subscribers of promptID, oldest first.
func (m *Manager) ListSubscribers(ctx context.Context, promptID string) ([]*store.Subscription, error) {
	return m.store.ListSubscriptionsByPrompt(ctx, promptID)
}

// ListSubscriptions returns the subscriptions held by agentID, oldest first.
func (m *Manager) ListSubscriptions(ctx context.Context, agentID string) ([]*store.Subscription, error) {
	agentID, err := NormalizeAgentID(agentID)
	if err != nil {
		return nil, err
	}
	return m.store.ListSubscriptionsByAgent(ctx, agentID)
}

// SubscriberCount returns the live number of subscribers of promptID.
func (m *Manager) SubscriberCount(ctx context.Context, promptID string) (int, error) {
	return m.store.CountSubscriptionsByPrompt(ctx, promptID)
}
