// ABOUTME: In-memory fan-out of prompt events to live listeners of each agent
// ABOUTME: Backs the per-agent SSE stream; slow listeners drop events rather than block

package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each listener.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub keyed by agent ID. It implements
// Publisher so the notifier can deliver to it like any other transport.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[string]map[string]chan *Event // agentID -> listenerID -> ch
	closed    bool
	logger    *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		listeners: make(map[string]map[string]chan *Event),
		logger:    logger.With("component", "broadcaster"),
	}
}

// Listen registers a listener for events addressed to agentID.
// The listener is removed and its channel closed when ctx is cancelled.
func (b *Broadcaster) Listen(ctx context.Context, agentID string) (<-chan *Event, string) {
	listenerID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, listenerID
	}
	if _, ok := b.listeners[agentID]; !ok {
		b.listeners[agentID] = make(map[string]chan *Event)
	}
	b.listeners[agentID][listenerID] = ch
	b.mu.Unlock()

	b.logger.Debug("listener added", "agent_id", agentID, "listener_id", listenerID)

	go func() {
		<-ctx.Done()
		b.Unlisten(agentID, listenerID)
	}()

	return ch, listenerID
}

// Publish hands event to every listener of event.AgentID.
// Non-blocking: events are dropped for listeners whose channels are full.
func (b *Broadcaster) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.listeners[event.AgentID] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow listener",
				"agent_id", event.AgentID,
				"event_id", event.ID)
		}
	}
	return nil
}

// Unlisten removes a listener and closes its channel.
func (b *Broadcaster) Unlisten(agentID, listenerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.listeners[agentID]
	if !ok {
		return
	}
	ch, exists := subs[listenerID]
	if !exists {
		return
	}

	delete(subs, listenerID)
	close(ch)

	if len(subs) == 0 {
		delete(b.listeners, agentID)
	}

	b.logger.Debug("listener removed", "agent_id", agentID, "listener_id", listenerID)
}

// ListenerCount returns the number of live listeners for agentID.
func (b *Broadcaster) ListenerCount(agentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[agentID])
}

// Close shuts down the broadcaster and closes all listener channels.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for agentID, subs := range b.listeners {
		for listenerID, ch := range subs {
			close(ch)
			delete(subs, listenerID)
		}
		delete(b.listeners, agentID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
	return nil
}

var _ Publisher = (*Broadcaster)(nil)
