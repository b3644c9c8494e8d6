// ABOUTME: HTTP handlers for explicit subscribe/unsubscribe and subscription listings
// ABOUTME: The calling agent is identified by the X-Agent-ID header or its bearer token

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/2389/prompt-forge/internal/store"
)

// SubscriptionResponse is the JSON representation of a subscription.
type SubscriptionResponse struct {
	ID           string `json:"id"`
	PromptID     string `json:"prompt_id"`
	PromptSlug   string `json:"prompt_slug"`
	AgentID      string `json:"agent_id"`
	SubscribedAt string `json:"subscribed_at"`
	LastPulledAt string `json:"last_pulled_at"`
}

func toSubscriptionResponse(s *store.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:           s.ID,
		PromptID:     s.PromptID,
		PromptSlug:   s.PromptSlug,
		AgentID:      s.AgentID,
		SubscribedAt: s.SubscribedAt.Format(time.RFC3339Nano),
		LastPulledAt: s.LastPulledAt.Format(time.RFC3339Nano),
	}
}

func toSubscriptionResponses(subs []*store.Subscription) []SubscriptionResponse {
	out := make([]SubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubscriptionResponse(s))
	}
	return out
}

// requireAgentID returns the caller's agent identity or writes a 400.
func (g *Gateway) requireAgentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	agentID := agentIdentity(r)
	if agentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, AgentIDHeader+" header is required")
		return "", false
	}
	return agentID, true
}

// handleSubscribe handles POST /prompts/{slug}/subscribe.
// Returns 201 when the subscription was created and 200 when it was refreshed.
func (g *Gateway) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	agentID, ok := g.requireAgentID(w, r)
	if !ok {
		return
	}

	p, err := g.prompts.Get(r.Context(), r.PathValue("slug"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	sub, created, err := g.subscriptions.Subscribe(r.Context(), p.ID, agentID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	sub.PromptSlug = p.Slug

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	g.writeJSON(w, status, toSubscriptionResponse(sub))
}

// handleUnsubscribe handles DELETE /prompts/{slug}/subscribe.
// Removing a subscription that does not exist, including one to an unknown
// prompt, still succeeds.
func (g *Gateway) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	agentID, ok := g.requireAgentID(w, r)
	if !ok {
		return
	}

	p, err := g.prompts.Get(r.Context(), r.PathValue("slug"))
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	if err := g.subscriptions.Unsubscribe(r.Context(), p.ID, agentID); err != nil {
		g.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSubscribers handles GET /prompts/{slug}/subscribers.
// An unknown prompt has no subscribers.
func (g *Gateway) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	p, err := g.prompts.Get(r.Context(), r.PathValue("slug"))
	if errors.Is(err, store.ErrNotFound) {
		g.writeJSON(w, http.StatusOK, []SubscriptionResponse{})
		return
	}
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	subs, err := g.subscriptions.ListSubscribers(r.Context(), p.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toSubscriptionResponses(subs))
}

// handleAgentSubscriptions handles GET /agents/{agent_id}/subscriptions.
func (g *Gateway) handleAgentSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := g.subscriptions.ListSubscriptions(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toSubscriptionResponses(subs))
}
