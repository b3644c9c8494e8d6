// ABOUTME: SQLite persistence for agent subscriptions to prompts
// ABOUTME: Upsert is a single INSERT ... ON CONFLICT statement keyed by (prompt_id, agent_id)

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertSubscription creates or refreshes the subscription for (promptID, agentID).
// The uniqueness constraint resolves concurrent first-time subscribers: the loser's
// insert turns into an update of the winner's row. last_pulled_at never moves backward.
// Returns ErrNotFound if the prompt doesn't exist.
func (s *SQLiteStore) UpsertSubscription(ctx context.Context, promptID, agentID string, now time.Time) (*Subscription, bool, error) {
	newID := uuid.New().String()
	ts := formatTime(now)

	var sub Subscription
	var subscribedAt, lastPulledAt string

	err := s.retryBusy(ctx, "upsert subscription", func() error {
		return s.db.QueryRowContext(ctx, `
			INSERT INTO prompt_subscriptions (id, prompt_id, agent_id, subscribed_at, last_pulled_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (prompt_id, agent_id) DO UPDATE
			SET last_pulled_at = MAX(prompt_subscriptions.last_pulled_at, excluded.last_pulled_at)
			RETURNING id, subscribed_at, last_pulled_at
		`, newID, promptID, agentID, ts, ts).Scan(&sub.ID, &subscribedAt, &lastPulledAt)
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("upserting subscription: %w", err)
	}

	sub.PromptID = promptID
	sub.AgentID = agentID
	if sub.SubscribedAt, err = parseTime(subscribedAt); err != nil {
		return nil, false, fmt.Errorf("parsing subscribed_at: %w", err)
	}
	if sub.LastPulledAt, err = parseTime(lastPulledAt); err != nil {
		return nil, false, fmt.Errorf("parsing last_pulled_at: %w", err)
	}

	created := sub.ID == newID
	s.logger.Debug("upserted subscription", "prompt_id", promptID, "agent_id", agentID, "created", created)
	return &sub, created, nil
}

// DeleteSubscription removes the subscription for (promptID, agentID) if it exists.
func (s *SQLiteStore) DeleteSubscription(ctx context.Context, promptID, agentID string) error {
	err := s.retryBusy(ctx, "delete subscription", func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM prompt_subscriptions WHERE prompt_id = ? AND agent_id = ?`, promptID, agentID)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}

	s.logger.Debug("deleted subscription", "prompt_id", promptID, "agent_id", agentID)
	return nil
}

// DeleteSubscriptionsOlderThan removes subscriptions whose last pull is before cutoff.
func (s *SQLiteStore) DeleteSubscriptionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.retryBusy(ctx, "delete stale subscriptions", func() error {
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM prompt_subscriptions WHERE last_pulled_at < ?`, formatTime(cutoff))
		if err != nil {
			return err
		}
		removed, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting stale subscriptions: %w", err)
	}
	return removed, nil
}

const subscriptionColumns = `s.id, s.prompt_id, p.slug, s.agent_id, s.subscribed_at, s.last_pulled_at`

// ListSubscriptionsByPrompt returns the subscribers of a prompt, oldest subscription first.
func (s *SQLiteStore) ListSubscriptionsByPrompt(ctx context.Context, promptID string) ([]*Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM prompt_subscriptions s
		JOIN prompts p ON p.id = s.prompt_id
		WHERE s.prompt_id = ?
		ORDER BY s.subscribed_at ASC, s.id ASC
	`, promptID)
}

// ListSubscriptionsByAgent returns the prompts an agent is subscribed to, oldest first.
func (s *SQLiteStore) ListSubscriptionsByAgent(ctx context.Context, agentID string) ([]*Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM prompt_subscriptions s
		JOIN prompts p ON p.id = s.prompt_id
		WHERE s.agent_id = ?
		ORDER BY s.subscribed_at ASC, s.id ASC
	`, agentID)
}

func (s *SQLiteStore) listSubscriptions(ctx context.Context, query string, arg string) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []*Subscription{}
	for rows.Next() {
		var sub Subscription
		var subscribedAt, lastPulledAt string
		if err := rows.Scan(&sub.ID, &sub.PromptID, &sub.PromptSlug, &sub.AgentID, &subscribedAt, &lastPulledAt); err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		if sub.SubscribedAt, err = parseTime(subscribedAt); err != nil {
			return nil, fmt.Errorf("parsing subscribed_at: %w", err)
		}
		if sub.LastPulledAt, err = parseTime(lastPulledAt); err != nil {
			return nil, fmt.Errorf("parsing last_pulled_at: %w", err)
		}
		subs = append(subs, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscription rows: %w", err)
	}
	return subs, nil
}

// CountSubscriptionsByPrompt returns the live number of subscribers of a prompt.
func (s *SQLiteStore) CountSubscriptionsByPrompt(ctx context.Context, promptID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM prompt_subscriptions WHERE prompt_id = ?`, promptID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting subscriptions: %w", err)
	}
	return count, nil
}
