// ABOUTME: Tests for the change Notifier fan-out
// ABOUTME: Uses recording, failing and slow publishers to check per-recipient isolation

package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/prompt-forge/internal/store"
	"github.com/2389/prompt-forge/internal/transport"
)

// stubPublisher records events and can fail or stall for chosen agents.
type stubPublisher struct {
	mu     sync.Mutex
	events []*transport.Event
	fail   map[string]bool
	stall  map[string]bool
}

func (p *stubPublisher) Publish(ctx context.Context, event *transport.Event) error {
	if p.stall[event.AgentID] {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.fail[event.AgentID] {
		return errors.New("transport unreachable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

func (p *stubPublisher) byAgent() map[string][]*transport.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]*transport.Event)
	for _, ev := range p.events {
		out[ev.AgentID] = append(out[ev.AgentID], ev)
	}
	return out
}

func setupNotifier(t *testing.T, pub transport.Publisher, opts NotifierOptions, agents ...string) (*Notifier, *store.Prompt) {
	t.Helper()
	s := store.NewMockStore()
	m := NewManager(s, discardLogger(), ManagerOptions{})
	p := newTestPrompt(t, s, "code-review")
	for _, a := range agents {
		_, _, err := m.Subscribe(context.Background(), p.ID, a)
		require.NoError(t, err)
	}
	return NewNotifier(m, pub, discardLogger(), opts), p
}

func TestNotifier_OneEventPerSubscriber(t *testing.T) {
	pub := &stubPublisher{}
	n, p := setupNotifier(t, pub, NotifierOptions{}, "agent-a", "agent-b")

	result := n.Notify(context.Background(), Change{
		PromptID:   p.ID,
		Slug:       p.Slug,
		OldVersion: 2,
		NewVersion: 3,
		ChangeNote: "sharper rubric",
		Priority:   PriorityHigh,
	})

	assert.Equal(t, Result{Audience: 2, Delivered: 2}, result)

	got := pub.byAgent()
	require.Len(t, got, 2)
	for _, agent := range []string{"agent-a", "agent-b"} {
		require.Len(t, got[agent], 1, "agent %s", agent)
		ev := got[agent][0]
		assert.Equal(t, transport.EventTypePromptUpdated, ev.Type)
		assert.Equal(t, transport.Subject("", agent), ev.Subject)
		assert.Equal(t, transport.PromptUpdated{
			Slug:       "code-review",
			PromptID:   p.ID,
			OldVersion: 2,
			NewVersion: 3,
			ChangeNote: "sharper rubric",
			Priority:   PriorityHigh,
		}, ev.Data)
	}
}

func TestNotifier_DefaultPriorityIsNormal(t *testing.T) {
	pub := &stubPublisher{}
	n, p := setupNotifier(t, pub, NotifierOptions{}, "agent-a")

	n.Notify(context.Background(), Change{PromptID: p.ID, Slug: p.Slug, NewVersion: 1})

	got := pub.byAgent()["agent-a"]
	require.Len(t, got, 1)
	assert.Equal(t, PriorityNormal, got[0].Data.Priority)
	assert.Equal(t, 0, got[0].Data.OldVersion)
}

func TestNotifier_NoSubscribers(t *testing.T) {
	pub := &stubPublisher{}
	n, p := setupNotifier(t, pub, NotifierOptions{})

	result := n.Notify(context.Background(), Change{PromptID: p.ID, Slug: p.Slug, NewVersion: 1})
	assert.Equal(t, Result{}, result)
}

func TestNotifier_FailureIsolatedPerRecipient(t *testing.T) {
	pub := &stubPublisher{fail: map[string]bool{"agent-bad": true}}
	n, p := setupNotifier(t, pub, NotifierOptions{}, "agent-a", "agent-bad", "agent-c")

	result := n.Notify(context.Background(), Change{PromptID: p.ID, Slug: p.Slug, NewVersion: 2, OldVersion: 1})

	assert.Equal(t, 3, result.Audience)
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	got := pub.byAgent()
	assert.Len(t, got["agent-a"], 1)
	assert.Len(t, got["agent-c"], 1)
}

func TestNotifier_SlowRecipientDoesNotStallOthers(t *testing.T) {
	pub := &stubPublisher{stall: map[string]bool{"agent-slow": true}}
	n, p := setupNotifier(t, pub, NotifierOptions{SendTimeout: 50 * time.Millisecond}, "agent-slow", "agent-fast")

	start := time.Now()
	result := n.Notify(context.Background(), Change{PromptID: p.ID, Slug: p.Slug, NewVersion: 1})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, pub.byAgent()["agent-fast"], 1)
}

func TestNotifier_BoundedConcurrency(t *testing.T) {
	pub := &concurrencyTracker{}
	agents := []string{"a1", "a2", "a3", "a4", "a5", "a6"}
	n, p := setupNotifier(t, pub, NotifierOptions{MaxConcurrency: 2}, agents...)

	result := n.Notify(context.Background(), Change{PromptID: p.ID, Slug: p.Slug, NewVersion: 1})

	assert.Equal(t, len(agents), result.Delivered)
	assert.LessOrEqual(t, pub.max, 2)
}

type concurrencyTracker struct {
	mu      sync.Mutex
	current int
	max     int
}

func (c *concurrencyTracker) Publish(ctx context.Context, event *transport.Event) error {
	c.mu.Lock()
	c.current++
	if c.current > c.max {
		c.max = c.current
	}
	c.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	c.mu.Lock()
	c.current--
	c.mu.Unlock()
	return nil
}

func (c *concurrencyTracker) Close() error { return nil }

type failingAudience struct{}

func (failingAudience) ListSubscribers(ctx context.Context, promptID string) ([]*store.Subscription, error) {
	return nil, store.ErrUnavailable
}

func TestNotifier_AudienceFailureIsSwallowed(t *testing.T) {
	n := NewNotifier(failingAudience{}, &stubPublisher{}, discardLogger(), NotifierOptions{})

	result := n.Notify(context.Background(), Change{PromptID: "p", Slug: "s", NewVersion: 1})
	assert.Equal(t, Result{}, result)
}

func TestNotifier_DispatchOutlivesCallerContext(t *testing.T) {
	pub := &stubPublisher{}
	n, p := setupNotifier(t, pub, NotifierOptions{}, "agent-a")

	ctx, cancel := context.WithCancel(context.Background())
	n.Dispatch(ctx, Change{PromptID: p.ID, Slug: p.Slug, NewVersion: 1})
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	require.NoError(t, n.Close(closeCtx))

	assert.Len(t, pub.byAgent()["agent-a"], 1)

	// dispatches after Close are dropped
	n.Dispatch(context.Background(), Change{PromptID: p.ID, Slug: p.Slug, NewVersion: 2})
	assert.Len(t, pub.byAgent()["agent-a"], 1)
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"low", PriorityLow, false},
		{"HIGH", PriorityHigh, false},
		{" critical ", PriorityCritical, false},
		{"urgent", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPriority)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
