// ABOUTME: Tests for event addressing, the in-memory broadcaster, Kafka and Multi publishers
// ABOUTME: Kafka is exercised through a recording writer so no broker is needed

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(id, agentID string) *Event {
	return &Event{
		ID:      id,
		Type:    EventTypePromptUpdated,
		Subject: Subject("", agentID),
		AgentID: agentID,
		Data: PromptUpdated{
			Slug:       "code-review",
			PromptID:   "prompt-1",
			OldVersion: 1,
			NewVersion: 2,
			ChangeNote: "tighten tone",
			Priority:   "high",
		},
		Time: time.Now().UTC(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix, agent, want string
	}{
		{"", "agent-1", "swarm.forge.agent.agent-1.prompt-updated"},
		{"custom", "agent_2", "custom.agent_2.prompt-updated"},
		{"", "team/alpha beta", "swarm.forge.agent.team_alpha_beta.prompt-updated"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.prefix, tt.agent))
	}
}

func TestBroadcaster_ListenerReceivesOwnEventsOnly(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Listen(ctx, "agent-1")
	ch2, _ := b.Listen(ctx, "agent-2")

	require.NoError(t, b.Publish(ctx, makeEvent("evt-1", "agent-1")))

	select {
	case received := <-ch1:
		assert.Equal(t, "evt-1", received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-ch2:
		t.Fatalf("agent-2 should not receive agent-1 events, got %s", ev.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_MultipleListenersSameAgent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Listen(ctx, "agent-1")
	ch2, _ := b.Listen(ctx, "agent-1")

	require.NoError(t, b.Publish(ctx, makeEvent("evt-2", "agent-1")))

	for i, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, "evt-2", received.ID, "listener %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("listener %d timed out", i)
		}
	}
}

func TestBroadcaster_ContextCancellationUnlistens(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Listen(ctx, "agent-1")
	assert.Equal(t, 1, b.ListenerCount("agent-1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after cancellation")
	}
	assert.Eventually(t, func() bool { return b.ListenerCount("agent-1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_SlowListenerDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Listen(t.Context(), "agent-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			_ = b.Publish(context.Background(), makeEvent("evt", "agent-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full listener")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_ConcurrentPublishAndUnlisten(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		ctx, cancel := context.WithCancel(context.Background())
		b.Listen(ctx, "agent-1")
		go func() {
			defer wg.Done()
			_ = b.Publish(context.Background(), makeEvent("evt", "agent-1"))
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	wg.Wait()
}

func TestBroadcaster_ListenAfterClose(t *testing.T) {
	b := NewBroadcaster(nil)
	require.NoError(t, b.Close())

	ch, _ := b.Listen(t.Context(), "agent-1")
	_, ok := <-ch
	assert.False(t, ok)
}

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_WritesToAgentTopic(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(w, discardLogger())

	ev := makeEvent("evt-1", "agent-7")
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "swarm.forge.agent.agent-7.prompt-updated", msg.Topic)
	assert.Equal(t, "agent-7", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte(EventTypePromptUpdated)})

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "code-review", payload["slug"])
	assert.Equal(t, "prompt-1", payload["prompt_id"])
	assert.Equal(t, float64(1), payload["old_version"])
	assert.Equal(t, float64(2), payload["new_version"])
	assert.Equal(t, "tighten tone", payload["change_note"])
	assert.Equal(t, "high", payload["priority"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, discardLogger())

	err := p.Publish(context.Background(), makeEvent("evt-1", "agent-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{" ", ""}}, nil)
	assert.Error(t, err)
}

type countingPublisher struct {
	count  int
	err    error
	closed bool
}

func (c *countingPublisher) Publish(ctx context.Context, event *Event) error {
	c.count++
	return c.err
}

func (c *countingPublisher) Close() error {
	c.closed = true
	return nil
}

func TestMulti_DeliversToAllDespiteFailure(t *testing.T) {
	failing := &countingPublisher{err: errors.New("nope")}
	ok := &countingPublisher{}
	m := Multi{failing, ok}

	err := m.Publish(context.Background(), makeEvent("evt-1", "agent-1"))
	assert.Error(t, err)
	assert.Equal(t, 1, failing.count)
	assert.Equal(t, 1, ok.count)

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}
