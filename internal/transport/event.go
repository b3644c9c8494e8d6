// ABOUTME: Event envelope and Publisher contract for prompt change notifications
// ABOUTME: Subjects address one agent each so consumers never filter other agents' traffic

package transport

import (
	"context"
	"strings"
	"time"
)

// EventTypePromptUpdated is the type of every event emitted when a prompt gets a new version.
const EventTypePromptUpdated = "prompt.updated"

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "swarm.forge.agent"

// PromptUpdated is the self-contained payload delivered to a subscriber.
type PromptUpdated struct {
	Slug       string `json:"slug"`
	PromptID   string `json:"prompt_id"`
	OldVersion int    `json:"old_version"`
	NewVersion int    `json:"new_version"`
	ChangeNote string `json:"change_note"`
	Priority   string `json:"priority"`
}

// Event is one notification addressed to a single agent.
type Event struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Subject string        `json:"subject"`
	AgentID string        `json:"agent_id"`
	Data    PromptUpdated `json:"data"`
	Time    time.Time     `json:"time"`
}

// Publisher delivers events to a messaging transport.
// Publish must respect ctx cancellation.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Subject returns the per-agent destination for prompt updates:
// <prefix>.<agent>.prompt-updated. Characters outside [a-zA-Z0-9._-] in the
// agent ID are replaced with '_' so the subject is also a valid Kafka topic name.
func Subject(prefix, agentID string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + sanitizeSegment(agentID) + ".prompt-updated"
}

func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
