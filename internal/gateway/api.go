// ABOUTME: HTTP API handlers for prompts and versions
// ABOUTME: Publishing notifies subscribers; fetching content auto-subscribes the calling agent

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/prompt-forge/internal/auth"
	"github.com/2389/prompt-forge/internal/prompts"
	"github.com/2389/prompt-forge/internal/store"
	"github.com/2389/prompt-forge/internal/subscription"
)

// AgentIDHeader carries the calling agent's identity.
const AgentIDHeader = "X-Agent-ID"

// IdempotencyKeyHeader marks a publish as safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// CreatePromptRequest is the JSON request body for POST /prompts.
type CreatePromptRequest struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name,omitempty"`
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// PromptResponse is the JSON representation of a prompt.
type PromptResponse struct {
	ID              string   `json:"id"`
	Slug            string   `json:"slug"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags"`
	SubscriberCount int      `json:"subscriber_count"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// PublishRequest is the JSON request body for POST /prompts/{slug}/versions.
type PublishRequest struct {
	Content  string `json:"content"`
	Message  string `json:"message"`
	Author   string `json:"author"`
	Priority string `json:"priority,omitempty"`
}

// RollbackRequest is the JSON request body for POST /prompts/{slug}/rollback.
type RollbackRequest struct {
	Version  int    `json:"version"`
	Author   string `json:"author"`
	Priority string `json:"priority,omitempty"`
}

// VersionResponse is the JSON representation of a version.
type VersionResponse struct {
	ID          string `json:"id"`
	PromptID    string `json:"prompt_id"`
	Slug        string `json:"slug"`
	Version     int    `json:"version"`
	Content     string `json:"content"`
	Message     string `json:"message"`
	Author      string `json:"author"`
	ContentHash string `json:"content_hash"`
	CreatedAt   string `json:"created_at"`
}

// DiffResponse is the JSON response for GET /prompts/{slug}/diff.
type DiffResponse struct {
	PromptID    string               `json:"prompt_id"`
	Slug        string               `json:"slug"`
	FromVersion int                  `json:"from_version"`
	ToVersion   int                  `json:"to_version"`
	Changes     []prompts.LineChange `json:"changes"`
	Summary     prompts.DiffSummary  `json:"summary"`
	Unified     string               `json:"unified"`
}

// PublishResponse is the JSON response for a committed version.
type PublishResponse struct {
	VersionResponse
	OldVersion int    `json:"old_version"`
	Priority   string `json:"priority"`
}

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	write := g.requireAuth
	agentRoute := g.optionalAuth

	mux.Handle("POST /prompts", write(g.handleCreatePrompt))
	mux.HandleFunc("GET /prompts", g.handleListPrompts)
	mux.HandleFunc("GET /prompts/{slug}", g.handleGetPrompt)
	mux.Handle("DELETE /prompts/{slug}", write(g.handleDeletePrompt))

	mux.Handle("POST /prompts/{slug}/versions", write(g.handlePublishVersion))
	mux.HandleFunc("GET /prompts/{slug}/versions", g.handleListVersions)
	mux.Handle("GET /prompts/{slug}/versions/{version}", agentRoute(g.handleGetVersion))
	mux.HandleFunc("GET /prompts/{slug}/diff", g.handleDiff)
	mux.Handle("POST /prompts/{slug}/rollback", write(g.handleRollback))

	mux.Handle("POST /prompts/{slug}/subscribe", agentRoute(g.handleSubscribe))
	mux.Handle("DELETE /prompts/{slug}/subscribe", agentRoute(g.handleUnsubscribe))
	mux.HandleFunc("GET /prompts/{slug}/subscribers", g.handleListSubscribers)
	mux.HandleFunc("GET /agents/{agent_id}/subscriptions", g.handleAgentSubscriptions)
	mux.HandleFunc("GET /agents/{agent_id}/events", g.handleAgentEvents)
}

// requireAuth wraps prompt management writes with JWT auth when a secret is configured.
func (g *Gateway) requireAuth(h http.HandlerFunc) http.Handler {
	if g.verifier == nil {
		return h
	}
	return auth.HTTPAuthMiddleware(g.verifier, g.logger)(h)
}

// optionalAuth records the token's principal on agent-facing routes without
// requiring one, so a bearer token can stand in for the X-Agent-ID header.
func (g *Gateway) optionalAuth(h http.HandlerFunc) http.Handler {
	if g.verifier == nil {
		return h
	}
	return auth.OptionalAuthMiddleware(g.verifier)(h)
}

// agentIdentity returns the trimmed X-Agent-ID header, falling back to the
// authenticated principal.
func agentIdentity(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(AgentIDHeader)); id != "" {
		return id
	}
	return auth.PrincipalID(r.Context())
}

func toPromptResponse(p *store.Prompt, subscribers int) PromptResponse {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return PromptResponse{
		ID:              p.ID,
		Slug:            p.Slug,
		Name:            p.Name,
		Type:            p.Type,
		Description:     p.Description,
		Tags:            tags,
		SubscriberCount: subscribers,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
}

func toVersionResponse(slug string, v *store.Version) VersionResponse {
	return VersionResponse{
		ID:          v.ID,
		PromptID:    v.PromptID,
		Slug:        slug,
		Version:     v.Version,
		Content:     v.Content,
		Message:     v.Message,
		Author:      v.Author,
		ContentHash: v.ContentHash,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
	}
}

func toPublishResponse(p *prompts.Published) PublishResponse {
	return PublishResponse{
		VersionResponse: toVersionResponse(p.Prompt.Slug, p.Version),
		OldVersion:      p.OldVersion,
		Priority:        p.Priority,
	}
}

// handleCreatePrompt handles POST /prompts.
func (g *Gateway) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req CreatePromptRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := g.prompts.Create(r.Context(), prompts.CreateInput{
		Slug:        req.Slug,
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, toPromptResponse(p, 0))
}

// handleListPrompts handles GET /prompts. Every item carries its live subscriber count.
func (g *Gateway) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := g.prompts.List(r.Context(), limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	response := make([]PromptResponse, 0, len(list))
	for _, p := range list {
		count, err := g.subscriptions.SubscriberCount(r.Context(), p.ID)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
		response = append(response, toPromptResponse(p, count))
	}

	g.writeJSON(w, http.StatusOK, response)
}

// handleGetPrompt handles GET /prompts/{slug}.
func (g *Gateway) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	p, err := g.prompts.Get(r.Context(), r.PathValue("slug"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	count, err := g.subscriptions.SubscriberCount(r.Context(), p.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	g.writeJSON(w, http.StatusOK, toPromptResponse(p, count))
}

// handleDeletePrompt handles DELETE /prompts/{slug}. Versions and subscriptions go with it.
func (g *Gateway) handleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	if err := g.prompts.Delete(r.Context(), r.PathValue("slug")); err != nil {
		g.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePublishVersion handles POST /prompts/{slug}/versions.
// A request repeating a recent Idempotency-Key gets the original version back
// with 200 and triggers no further notifications.
func (g *Gateway) handlePublishVersion(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	var req PublishRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var cacheKey string
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		cacheKey = slug + "\x00" + key
		if prior, ok := g.idempotency.Get(cacheKey); ok {
			g.logger.Debug("replaying idempotent publish", "slug", slug, "version", prior.Version.Version)
			g.writeJSON(w, http.StatusOK, toPublishResponse(prior))
			return
		}
	}

	author := req.Author
	if author == "" {
		author = auth.PrincipalID(r.Context())
	}

	published, err := g.prompts.Publish(r.Context(), slug, prompts.PublishInput{
		Content:  req.Content,
		Message:  req.Message,
		Author:   author,
		Priority: req.Priority,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	if cacheKey != "" {
		g.idempotency.Put(cacheKey, published)
	}

	g.writeJSON(w, http.StatusCreated, toPublishResponse(published))
}

// handleListVersions handles GET /prompts/{slug}/versions, newest first.
func (g *Gateway) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, versions, err := g.prompts.History(r.Context(), r.PathValue("slug"), limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	response := make([]VersionResponse, 0, len(versions))
	for _, v := range versions {
		response = append(response, toVersionResponse(p.Slug, v))
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleGetVersion handles GET /prompts/{slug}/versions/{version}.
// {version} is a version number or "latest". When the request names an agent,
// that agent is subscribed to the prompt (or its last pull refreshed).
func (g *Gateway) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	p, v, err := g.prompts.GetVersion(r.Context(), r.PathValue("slug"), r.PathValue("version"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	if agentID := agentIdentity(r); agentID != "" {
		g.subscriptions.AutoSubscribe(r.Context(), p.ID, agentID)
	}

	etag := `"` + v.ContentHash + `"`
	w.Header().Set("ETag", etag)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		html, err := prompts.RenderHTML(v.Content)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, html)
		return
	}

	g.writeJSON(w, http.StatusOK, toVersionResponse(p.Slug, v))
}

// handleDiff handles GET /prompts/{slug}/diff?from=N&to=M.
// Both versions accept "latest". ?format=unified returns a plain-text unified diff.
func (g *Gateway) handleDiff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := g.prompts.Diff(r.Context(), r.PathValue("slug"), q.Get("from"), q.Get("to"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	if q.Get("format") == "unified" {
		w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, d.Unified)
		return
	}

	g.writeJSON(w, http.StatusOK, DiffResponse{
		PromptID:    d.Prompt.ID,
		Slug:        d.Prompt.Slug,
		FromVersion: d.FromVersion,
		ToVersion:   d.ToVersion,
		Changes:     d.Changes,
		Summary:     d.Summary,
		Unified:     d.Unified,
	})
}

// handleRollback handles POST /prompts/{slug}/rollback.
func (g *Gateway) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	author := req.Author
	if author == "" {
		author = auth.PrincipalID(r.Context())
	}

	published, err := g.prompts.Rollback(r.Context(), r.PathValue("slug"), req.Version, author, req.Priority)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, toPublishResponse(published))
}

// etagMatches reports whether an If-None-Match header value matches etag.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

// parseLimit reads the optional ?limit query parameter. 0 means the store default.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

// decodeJSON decodes a request body into v.
func decodeJSON(body io.Reader, v any) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeError maps an operation error to its HTTP status.
// Anything unrecognized is logged and reported as a generic 500.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, prompts.ErrInvalidSlug),
		errors.Is(err, prompts.ErrInvalidType),
		errors.Is(err, prompts.ErrEmptyContent),
		errors.Is(err, prompts.ErrInvalidVersion),
		errors.Is(err, subscription.ErrInvalidPriority),
		errors.Is(err, subscription.ErrInvalidAgentID),
		errors.Is(err, subscription.ErrInvalidPromptID):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicatePrompt), errors.Is(err, store.ErrVersionConflict):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		g.logger.Error("store unavailable", "method", r.Method, "path", r.URL.Path, "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes v as a JSON response with status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
