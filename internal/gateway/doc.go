// Package gateway orchestrates the prompt-forge server components.
//
// # Overview
//
// The Gateway owns the store, the subscription engine (manager, notifier and
// sweeper), the transports, and the HTTP server. New wires them from a
// config.Config; Run serves until its context is canceled and then shuts
// everything down in dependency order.
//
// # HTTP API
//
// Prompt management:
//
//	POST   /prompts                                create a prompt
//	GET    /prompts                                list prompts with subscriber_count
//	GET    /prompts/{slug}                         one prompt with subscriber_count
//	DELETE /prompts/{slug}                         delete prompt, versions and subscriptions
//	POST   /prompts/{slug}/versions                publish a version and notify subscribers
//	GET    /prompts/{slug}/versions                version history, newest first
//	GET    /prompts/{slug}/versions/{version}      fetch content ("latest" allowed)
//	GET    /prompts/{slug}/diff?from=N&to=M        line diff of two versions
//	POST   /prompts/{slug}/rollback                republish an older version's content
//
// Subscriptions (caller identified by the X-Agent-ID header):
//
//	POST   /prompts/{slug}/subscribe               201 created, 200 refreshed
//	DELETE /prompts/{slug}/subscribe               204, idempotent
//	GET    /prompts/{slug}/subscribers             subscribers, oldest first
//	GET    /agents/{agent_id}/subscriptions        an agent's subscriptions
//	GET    /agents/{agent_id}/events               SSE stream of prompt.updated events
//
// Fetching a version with X-Agent-ID set subscribes that agent to the prompt
// as a side effect. Failures of that side effect never fail the fetch.
//
// # Authentication
//
// When auth.jwt_secret is configured, prompt management writes require an
// HS256 Bearer token. The token subject becomes the default version author.
// On subscribe, unsubscribe and version fetch a token is optional; when valid
// its subject identifies the agent if X-Agent-ID is absent.
//
// # Shutdown
//
// Shutdown stops the HTTP server, closing the broadcaster so open event
// streams end, stops and joins the sweeper, waits for in-flight notification
// fan-outs on a budget of their own, closes the transports, then the store.
package gateway
