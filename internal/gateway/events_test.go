// ABOUTME: Tests for the per-agent Server-Sent Events stream
// ABOUTME: Uses a real HTTP server so responses are streamed and flushed

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/prompt-forge/internal/transport"
)

type sseFrame struct {
	event string
	data  string
}

// readFrame reads lines until a blank line ends one event, skipping comments.
func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()

	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "":
			if f.event != "" {
				return f
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestAgentEvents_StreamsPromptUpdates(t *testing.T) {
	gw := newTestGateway(t, nil)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	createPrompt(t, gw, "persona")
	require.Equal(t, http.StatusCreated, doRequest(t, gw, http.MethodPost, "/prompts/persona/subscribe", nil, agent("watcher")).Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/agents/watcher/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	ready := readFrame(t, reader)
	assert.Equal(t, "ready", ready.event)
	assert.Contains(t, ready.data, "watcher")

	publish(t, gw, "persona", PublishRequest{Content: "v1", Message: "first cut", Priority: "critical"})

	frame := readFrame(t, reader)
	assert.Equal(t, transport.EventTypePromptUpdated, frame.event)

	var ev transport.Event
	require.NoError(t, json.Unmarshal([]byte(frame.data), &ev))
	assert.Equal(t, "watcher", ev.AgentID)
	assert.Equal(t, "persona", ev.Data.Slug)
	assert.Equal(t, 1, ev.Data.NewVersion)
	assert.Equal(t, "critical", ev.Data.Priority)
	assert.Equal(t, "first cut", ev.Data.ChangeNote)
}

func TestAgentEvents_OnlyOwnAgent(t *testing.T) {
	gw := newTestGateway(t, nil)

	createPrompt(t, gw, "persona")
	require.Equal(t, http.StatusCreated, doRequest(t, gw, http.MethodPost, "/prompts/persona/subscribe", nil, agent("subscriber")).Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bystander, _ := gw.broadcaster.Listen(ctx, "bystander")
	subscriber, _ := gw.broadcaster.Listen(ctx, "subscriber")

	publish(t, gw, "persona", PublishRequest{Content: "v1"})
	waitEvent(t, subscriber)

	select {
	case ev := <-bystander:
		t.Fatalf("bystander received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAgentEvents_InvalidAgent(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw, http.MethodGet, "/agents/"+strings.Repeat("x", 300)+"/events", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentEvents_ListenerRemovedOnDisconnect(t *testing.T) {
	gw := newTestGateway(t, nil)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/agents/leaver/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	readFrame(t, bufio.NewReader(resp.Body))
	assert.Equal(t, 1, gw.broadcaster.ListenerCount("leaver"))

	cancel()
	_ = resp.Body.Close()

	assert.Eventually(t, func() bool {
		return gw.broadcaster.ListenerCount("leaver") == 0
	}, 2*time.Second, 10*time.Millisecond)
}
