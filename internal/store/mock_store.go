// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the same contracts

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	prompts       map[string]*Prompt        // keyed by prompt ID
	slugIndex     map[string]string         // slug -> prompt ID
	versions      map[string][]*Version     // keyed by prompt ID, ascending
	subscriptions map[string]*Subscription  // keyed by "promptID:agentID"

	// PingErr, when set, is returned by Ping.
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		prompts:       make(map[string]*Prompt),
		slugIndex:     make(map[string]string),
		versions:      make(map[string][]*Version),
		subscriptions: make(map[string]*Subscription),
	}
}

func subscriptionKey(promptID, agentID string) string {
	return promptID + ":" + agentID
}

// CreatePrompt stores a new prompt.
func (m *MockStore) CreatePrompt(ctx context.Context, prompt *Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.slugIndex[prompt.Slug]; ok {
		return ErrDuplicatePrompt
	}

	// Make a copy to avoid external modification
	p := *prompt
	p.Tags = append([]string{}, prompt.Tags...)
	m.prompts[p.ID] = &p
	m.slugIndex[p.Slug] = p.ID
	return nil
}

// GetPrompt retrieves a prompt by ID.
func (m *MockStore) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// GetPromptBySlug retrieves a prompt by slug.
func (m *MockStore) GetPromptBySlug(ctx context.Context, slug string) (*Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugIndex[slug]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.prompts[id]
	return &result, nil
}

// ListPrompts returns prompts ordered by slug.
func (m *MockStore) ListPrompts(ctx context.Context, limit int) ([]*Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = clampLimit(limit, 100, 1000)

	var result []*Prompt
	for _, p := range m.prompts {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Slug < result[j].Slug
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeletePrompt removes a prompt along with its versions and subscriptions.
func (m *MockStore) DeletePrompt(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prompts[id]
	if !ok {
		return ErrNotFound
	}

	delete(m.prompts, id)
	delete(m.slugIndex, p.Slug)
	delete(m.versions, id)
	for key, sub := range m.subscriptions {
		if sub.PromptID == id {
			delete(m.subscriptions, key)
		}
	}
	return nil
}

// CommitVersion appends v as the next version of its prompt.
func (m *MockStore) CommitVersion(ctx context.Context, v *Version) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prompts[v.PromptID]
	if !ok {
		return 0, ErrNotFound
	}

	previous := len(m.versions[v.PromptID])
	v.Version = previous + 1

	stored := *v
	m.versions[v.PromptID] = append(m.versions[v.PromptID], &stored)
	p.UpdatedAt = v.CreatedAt
	return previous, nil
}

// GetVersion retrieves one version of a prompt.
func (m *MockStore) GetVersion(ctx context.Context, promptID string, version int) (*Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.versions[promptID]
	if version < 1 || version > len(versions) {
		return nil, ErrNotFound
	}
	result := *versions[version-1]
	return &result, nil
}

// GetLatestVersion retrieves the newest version of a prompt.
func (m *MockStore) GetLatestVersion(ctx context.Context, promptID string) (*Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.versions[promptID]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	result := *versions[len(versions)-1]
	return &result, nil
}

// ListVersions returns versions newest first.
func (m *MockStore) ListVersions(ctx context.Context, promptID string, limit int) ([]*Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = clampLimit(limit, 50, 200)

	versions := m.versions[promptID]
	var result []*Version
	for i := len(versions) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *versions[i]
		result = append(result, &cp)
	}
	return result, nil
}

// UpsertSubscription creates or refreshes a subscription.
func (m *MockStore) UpsertSubscription(ctx context.Context, promptID, agentID string, now time.Time) (*Subscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prompts[promptID]
	if !ok {
		return nil, false, ErrNotFound
	}

	now = now.UTC()
	key := subscriptionKey(promptID, agentID)
	sub, exists := m.subscriptions[key]
	if exists {
		if now.After(sub.LastPulledAt) {
			sub.LastPulledAt = now
		}
	} else {
		sub = &Subscription{
			ID:           uuid.New().String(),
			PromptID:     promptID,
			PromptSlug:   p.Slug,
			AgentID:      agentID,
			SubscribedAt: now,
			LastPulledAt: now,
		}
		m.subscriptions[key] = sub
	}

	result := *sub
	return &result, !exists, nil
}

// DeleteSubscription removes a subscription if present.
func (m *MockStore) DeleteSubscription(ctx context.Context, promptID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subscriptions, subscriptionKey(promptID, agentID))
	return nil
}

// DeleteSubscriptionsOlderThan removes subscriptions last pulled before cutoff.
func (m *MockStore) DeleteSubscriptionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, sub := range m.subscriptions {
		if sub.LastPulledAt.Before(cutoff) {
			delete(m.subscriptions, key)
			removed++
		}
	}
	return removed, nil
}

// ListSubscriptionsByPrompt returns a prompt's subscribers, oldest first.
func (m *MockStore) ListSubscriptionsByPrompt(ctx context.Context, promptID string) ([]*Subscription, error) {
	return m.filterSubscriptions(func(s *Subscription) bool { return s.PromptID == promptID }), nil
}

// ListSubscriptionsByAgent returns an agent's subscriptions, oldest first.
func (m *MockStore) ListSubscriptionsByAgent(ctx context.Context, agentID string) ([]*Subscription, error) {
	return m.filterSubscriptions(func(s *Subscription) bool { return s.AgentID == agentID }), nil
}

func (m *MockStore) filterSubscriptions(match func(*Subscription) bool) []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*Subscription{}
	for _, sub := range m.subscriptions {
		if match(sub) {
			cp := *sub
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SubscribedAt.Equal(result[j].SubscribedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].SubscribedAt.Before(result[j].SubscribedAt)
	})
	return result
}

// CountSubscriptionsByPrompt returns the number of subscribers of a prompt.
func (m *MockStore) CountSubscriptionsByPrompt(ctx context.Context, promptID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, sub := range m.subscriptions {
		if sub.PromptID == promptID {
			count++
		}
	}
	return count, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
