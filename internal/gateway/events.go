// ABOUTME: Server-Sent Events stream of prompt updates addressed to one agent
// ABOUTME: Reads from the in-process broadcaster; keepalive comments hold idle connections open

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/prompt-forge/internal/subscription"
)

// sseKeepaliveInterval is how often an idle stream gets a comment line.
const sseKeepaliveInterval = 30 * time.Second

// handleAgentEvents handles GET /agents/{agent_id}/events.
// The stream ends when the client disconnects or the gateway shuts down.
func (g *Gateway) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	agentID, err := subscription.NormalizeAgentID(r.PathValue("agent_id"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	events, listenerID := g.broadcaster.Listen(ctx, agentID)
	defer g.broadcaster.Unlisten(agentID, listenerID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, "ready", map[string]string{"agent_id": agentID})
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, event.Type, event)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
