// ABOUTME: Store interfaces and data types for prompt-forge persistence
// ABOUTME: Defines Prompt, Version, Subscription and the contracts the backends implement

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicatePrompt is returned when a prompt with the same slug already exists
var ErrDuplicatePrompt = errors.New("prompt already exists")

// ErrVersionConflict is returned when a version number was taken by a concurrent commit
var ErrVersionConflict = errors.New("version already exists")

// ErrUnavailable is returned when the backing store stayed busy or unreachable
// after the retries allowed for an idempotent write.
var ErrUnavailable = errors.New("store unavailable")

// Prompt types
const (
	PromptTypePersona    = "persona"
	PromptTypeSkill      = "skill"
	PromptTypeConstraint = "constraint"
	PromptTypeTemplate   = "template"
	PromptTypeMeta       = "meta"
)

// Prompt is a named, versioned configuration document
type Prompt struct {
	ID          string
	Slug        string
	Name        string
	Type        string
	Description string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Version is an immutable, sequentially numbered snapshot of a prompt's content
type Version struct {
	ID          string
	PromptID    string
	Version     int
	Content     string
	Message     string
	Author      string
	ContentHash string
	CreatedAt   time.Time
}

// Subscription binds one agent to one prompt and tracks how recently the agent pulled it.
// SubscribedAt is set once; LastPulledAt only ever moves forward.
type Subscription struct {
	ID           string
	PromptID     string
	PromptSlug   string // populated by listings
	AgentID      string
	SubscribedAt time.Time
	LastPulledAt time.Time
}

// PromptStore persists prompts and their version history
type PromptStore interface {
	CreatePrompt(ctx context.Context, prompt *Prompt) error
	GetPrompt(ctx context.Context, id string) (*Prompt, error)
	GetPromptBySlug(ctx context.Context, slug string) (*Prompt, error)
	ListPrompts(ctx context.Context, limit int) ([]*Prompt, error)
	// DeletePrompt removes the prompt together with its versions and subscriptions.
	DeletePrompt(ctx context.Context, id string) error

	// CommitVersion assigns the next version number to v, stores it and
	// returns the number of the version it supersedes (0 for the first one).
	CommitVersion(ctx context.Context, v *Version) (previous int, err error)
	GetVersion(ctx context.Context, promptID string, version int) (*Version, error)
	GetLatestVersion(ctx context.Context, promptID string) (*Version, error)
	ListVersions(ctx context.Context, promptID string, limit int) ([]*Version, error)
}

// SubscriptionStore owns persisted subscription state.
// Every method is a single atomic unit against the backing store.
type SubscriptionStore interface {
	// UpsertSubscription creates the (promptID, agentID) row with both timestamps set
	// to now, or moves last_pulled_at forward to now if the row exists. created reports
	// which of the two happened. Concurrent callers for the same pair converge on one row.
	UpsertSubscription(ctx context.Context, promptID, agentID string, now time.Time) (sub *Subscription, created bool, err error)

	// DeleteSubscription removes the row if present. Absent rows are not an error.
	DeleteSubscription(ctx context.Context, promptID, agentID string) error

	// DeleteSubscriptionsOlderThan removes every row with last_pulled_at < cutoff.
	DeleteSubscriptionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Listings are ordered by subscribed_at ascending.
	ListSubscriptionsByPrompt(ctx context.Context, promptID string) ([]*Subscription, error)
	ListSubscriptionsByAgent(ctx context.Context, agentID string) ([]*Subscription, error)

	CountSubscriptionsByPrompt(ctx context.Context, promptID string) (int, error)
}

// Store is the full persistence contract used by the gateway
type Store interface {
	PromptStore
	SubscriptionStore

	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
