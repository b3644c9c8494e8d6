// ABOUTME: Prompt registry and version publishing on top of the store
// ABOUTME: Publishing commits a version and hands the change to the notifier

package prompts

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/zeebo/blake3"

	"github.com/2389/prompt-forge/internal/metrics"
	"github.com/2389/prompt-forge/internal/store"
	"github.com/2389/prompt-forge/internal/subscription"
)

var (
	ErrInvalidSlug    = errors.New("slug must be 1-128 characters of a-z, 0-9, '-' or '_'")
	ErrInvalidType    = errors.New("type must be one of persona, skill, constraint, template, meta")
	ErrEmptyContent   = errors.New("content is required")
	ErrInvalidVersion = errors.New("version must be a positive integer or 'latest'")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9_-]{1,128}$`)

// Notifier receives committed changes for delivery to subscribers.
type Notifier interface {
	Dispatch(ctx context.Context, change subscription.Change)
}

// CreateInput holds the fields of a new prompt.
type CreateInput struct {
	Slug        string
	Name        string
	Type        string
	Description string
	Tags        []string
}

// PublishInput holds the fields of a new version.
type PublishInput struct {
	Content  string
	Message  string
	Author   string
	Priority string
}

// Published is the outcome of committing a version.
type Published struct {
	Prompt     *store.Prompt
	Version    *store.Version
	OldVersion int
	Priority   string
}

// Service implements prompt and version operations.
type Service struct {
	store    store.PromptStore
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. notifier may be nil, in which case nothing is notified.
func NewService(s store.PromptStore, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With("component", "prompts"),
		now:      time.Now,
	}
}

// ValidSlug reports whether slug is an acceptable prompt slug.
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// Create registers a new prompt. Type defaults to template and Name to the slug.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Prompt, error) {
	slug := strings.TrimSpace(in.Slug)
	if !ValidSlug(slug) {
		return nil, ErrInvalidSlug
	}

	promptType := strings.ToLower(strings.TrimSpace(in.Type))
	switch promptType {
	case "":
		promptType = store.PromptTypeTemplate
	case store.PromptTypePersona, store.PromptTypeSkill, store.PromptTypeConstraint,
		store.PromptTypeTemplate, store.PromptTypeMeta:
	default:
		return nil, ErrInvalidType
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = slug
	}

	tags := make([]string, 0, len(in.Tags))
	for _, tag := range in.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	now := s.now().UTC()
	p := &store.Prompt{
		ID:          uuid.New().String(),
		Slug:        slug,
		Name:        name,
		Type:        promptType,
		Description: in.Description,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreatePrompt(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("prompt created", "slug", p.Slug, "id", p.ID, "type", p.Type)
	return p, nil
}

// Get returns the prompt with slug.
func (s *Service) Get(ctx context.Context, slug string) (*store.Prompt, error) {
	p, err := s.store.GetPromptBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("prompt %q: %w", slug, err)
	}
	return p, nil
}

// List returns prompts ordered by slug.
func (s *Service) List(ctx context.Context, limit int) ([]*store.Prompt, error) {
	return s.store.ListPrompts(ctx, limit)
}

// Delete removes a prompt with its versions and subscriptions.
func (s *Service) Delete(ctx context.Context, slug string) error {
	p, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.store.DeletePrompt(ctx, p.ID); err != nil {
		return err
	}
	s.logger.Info("prompt deleted", "slug", slug, "id", p.ID)
	return nil
}

// Publish commits a new version of the prompt and dispatches change
// notifications. Notification never affects the result.
func (s *Service) Publish(ctx context.Context, slug string, in PublishInput) (*Published, error) {
	if in.Content == "" {
		return nil, ErrEmptyContent
	}
	priority, err := subscription.ParsePriority(in.Priority)
	if err != nil {
		return nil, err
	}

	p, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}

	v := &store.Version{
		ID:          uuid.New().String(),
		PromptID:    p.ID,
		Content:     in.Content,
		Message:     in.Message,
		Author:      in.Author,
		ContentHash: ContentHash(in.Content),
		CreatedAt:   s.now().UTC(),
	}
	previous, err := s.store.CommitVersion(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("committing version of %s: %w", slug, err)
	}

	s.metrics.VersionPublished()
	s.logger.Info("version published",
		"slug", slug,
		"version", v.Version,
		"previous", previous,
		"author", v.Author)

	if s.notifier != nil {
		s.notifier.Dispatch(ctx, subscription.Change{
			PromptID:   p.ID,
			Slug:       p.Slug,
			OldVersion: previous,
			NewVersion: v.Version,
			ChangeNote: v.Message,
			Priority:   priority,
		})
	}

	return &Published{Prompt: p, Version: v, OldVersion: previous, Priority: priority}, nil
}

// Rollback publishes a new version whose content is that of version target.
func (s *Service) Rollback(ctx context.Context, slug string, target int, author, priority string) (*Published, error) {
	if target < 1 {
		return nil, ErrInvalidVersion
	}
	p, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	old, err := s.store.GetVersion(ctx, p.ID, target)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", target, err)
	}

	return s.Publish(ctx, slug, PublishInput{
		Content:  old.Content,
		Message:  fmt.Sprintf("Rollback to version %d", target),
		Author:   author,
		Priority: priority,
	})
}

// History returns the version history of a prompt, newest first.
func (s *Service) History(ctx context.Context, slug string, limit int) (*store.Prompt, []*store.Version, error) {
	p, err := s.Get(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	versions, err := s.store.ListVersions(ctx, p.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return p, versions, nil
}

// ParseVersionRef parses a version path segment. 0 means latest.
func ParseVersionRef(ref string) (int, error) {
	if ref == "latest" {
		return 0, nil
	}
	n, err := strconv.Atoi(ref)
	if err != nil || n < 1 {
		return 0, ErrInvalidVersion
	}
	return n, nil
}

// GetVersion resolves ref ("latest" or a version number) for the prompt with slug.
func (s *Service) GetVersion(ctx context.Context, slug, ref string) (*store.Prompt, *store.Version, error) {
	n, err := ParseVersionRef(ref)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.Get(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.resolveVersion(ctx, p, n, ref)
	if err != nil {
		return nil, nil, err
	}
	return p, v, nil
}

// resolveVersion loads version n of p, or its latest version when n is 0.
func (s *Service) resolveVersion(ctx context.Context, p *store.Prompt, n int, ref string) (*store.Version, error) {
	var (
		v   *store.Version
		err error
	)
	if n == 0 {
		v, err = s.store.GetLatestVersion(ctx, p.ID)
	} else {
		v, err = s.store.GetVersion(ctx, p.ID, n)
	}
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", ref, err)
	}
	return v, nil
}

// ContentHash returns the hex blake3 digest of content.
func ContentHash(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RenderHTML renders markdown content to HTML.
func RenderHTML(content string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}
