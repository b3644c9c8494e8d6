// ABOUTME: PostgreSQL implementation of the Store interface using pgx
// ABOUTME: Same contracts as the SQLite store; upserts use ON CONFLICT with GREATEST

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to databaseURL, pings it and creates the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	// Ping to fail fast.
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.createSchema(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("PostgreSQL store initialized", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		create table if not exists prompts (
			id          text primary key,
			slug        text not null unique,
			name        text not null,
			type        text not null check (type in ('persona', 'skill', 'constraint', 'template', 'meta')),
			description text not null default '',
			tags        text[] not null default '{}',
			created_at  timestamptz not null,
			updated_at  timestamptz not null
		);

		create table if not exists prompt_versions (
			id           text primary key,
			prompt_id    text not null references prompts(id) on delete cascade,
			version      integer not null,
			content      text not null,
			message      text not null default '',
			author       text not null default '',
			content_hash text not null,
			created_at   timestamptz not null,
			unique (prompt_id, version)
		);

		create table if not exists prompt_subscriptions (
			id             text primary key,
			prompt_id      text not null references prompts(id) on delete cascade,
			agent_id       text not null,
			subscribed_at  timestamptz not null,
			last_pulled_at timestamptz not null,
			unique (prompt_id, agent_id)
		);

		create index if not exists idx_subscriptions_prompt on prompt_subscriptions(prompt_id, subscribed_at);
		create index if not exists idx_subscriptions_agent on prompt_subscriptions(agent_id, subscribed_at);
		create index if not exists idx_subscriptions_last_pulled on prompt_subscriptions(last_pulled_at);
	`)
	return err
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL store")
	s.pool.Close()
	return nil
}

// CreatePrompt inserts a new prompt.
func (s *PostgresStore) CreatePrompt(ctx context.Context, prompt *Prompt) error {
	tags := prompt.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		insert into prompts (id, slug, name, type, description, tags, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, prompt.ID, prompt.Slug, prompt.Name, prompt.Type, prompt.Description, tags,
		prompt.CreatedAt.UTC(), prompt.UpdatedAt.UTC())
	if err != nil {
		return mapPgErr(err, ErrDuplicatePrompt)
	}
	return nil
}

const pgPromptColumns = `id, slug, name, type, description, tags, created_at, updated_at`

// GetPrompt retrieves a prompt by ID.
func (s *PostgresStore) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	row := s.pool.QueryRow(ctx, `select `+pgPromptColumns+` from prompts where id = $1`, id)
	return scanPgPrompt(row)
}

// GetPromptBySlug retrieves a prompt by slug.
func (s *PostgresStore) GetPromptBySlug(ctx context.Context, slug string) (*Prompt, error) {
	row := s.pool.QueryRow(ctx, `select `+pgPromptColumns+` from prompts where slug = $1`, slug)
	return scanPgPrompt(row)
}

func scanPgPrompt(row pgx.Row) (*Prompt, error) {
	var p Prompt
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Type, &p.Description, &p.Tags, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapPgErr(err, nil)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// ListPrompts returns prompts ordered by slug.
func (s *PostgresStore) ListPrompts(ctx context.Context, limit int) ([]*Prompt, error) {
	rows, err := s.pool.Query(ctx,
		`select `+pgPromptColumns+` from prompts order by slug limit $1`, clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, mapPgErr(err, nil)
	}
	defer rows.Close()

	var out []*Prompt
	for rows.Next() {
		p, err := scanPgPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePrompt removes a prompt; versions and subscriptions cascade.
func (s *PostgresStore) DeletePrompt(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `delete from prompts where id = $1`, id)
	if err != nil {
		return mapPgErr(err, nil)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// lockPromptQuery serializes version numbering per prompt. FOR NO KEY UPDATE
// does not conflict with the FOR KEY SHARE taken by foreign key checks, so
// subscription upserts on the prompt proceed during a commit.
const lockPromptQuery = `select id from prompts where id = $1 for no key update`

// CommitVersion stores v as the next version of its prompt. The prompt row is
// locked for the duration so concurrent commits number sequentially.
func (s *PostgresStore) CommitVersion(ctx context.Context, v *Version) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, mapPgErr(err, nil)
	}
	defer tx.Rollback(ctx)

	var locked string
	if err := tx.QueryRow(ctx, lockPromptQuery, v.PromptID).Scan(&locked); err != nil {
		return 0, mapPgErr(err, nil)
	}

	var previous int
	if err := tx.QueryRow(ctx,
		`select coalesce(max(version), 0) from prompt_versions where prompt_id = $1`, v.PromptID,
	).Scan(&previous); err != nil {
		return 0, mapPgErr(err, nil)
	}

	v.Version = previous + 1
	if _, err := tx.Exec(ctx, `
		insert into prompt_versions (id, prompt_id, version, content, message, author, content_hash, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.PromptID, v.Version, v.Content, v.Message, v.Author, v.ContentHash, v.CreatedAt.UTC()); err != nil {
		return 0, mapPgErr(err, ErrVersionConflict)
	}

	if _, err := tx.Exec(ctx, `update prompts set updated_at = $1 where id = $2`, v.CreatedAt.UTC(), v.PromptID); err != nil {
		return 0, mapPgErr(err, nil)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, mapPgErr(err, nil)
	}
	return previous, nil
}

const pgVersionColumns = `id, prompt_id, version, content, message, author, content_hash, created_at`

// GetVersion retrieves one version of a prompt.
func (s *PostgresStore) GetVersion(ctx context.Context, promptID string, version int) (*Version, error) {
	row := s.pool.QueryRow(ctx,
		`select `+pgVersionColumns+` from prompt_versions where prompt_id = $1 and version = $2`, promptID, version)
	return scanPgVersion(row)
}

// GetLatestVersion retrieves the newest version of a prompt.
func (s *PostgresStore) GetLatestVersion(ctx context.Context, promptID string) (*Version, error) {
	row := s.pool.QueryRow(ctx,
		`select `+pgVersionColumns+` from prompt_versions where prompt_id = $1 order by version desc limit 1`, promptID)
	return scanPgVersion(row)
}

// ListVersions returns versions newest first.
func (s *PostgresStore) ListVersions(ctx context.Context, promptID string, limit int) ([]*Version, error) {
	rows, err := s.pool.Query(ctx,
		`select `+pgVersionColumns+` from prompt_versions where prompt_id = $1 order by version desc limit $2`,
		promptID, clampLimit(limit, 50, 200))
	if err != nil {
		return nil, mapPgErr(err, nil)
	}
	defer rows.Close()

	var out []*Version
	for rows.Next() {
		v, err := scanPgVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanPgVersion(row pgx.Row) (*Version, error) {
	var v Version
	if err := row.Scan(&v.ID, &v.PromptID, &v.Version, &v.Content, &v.Message, &v.Author, &v.ContentHash, &v.CreatedAt); err != nil {
		return nil, mapPgErr(err, nil)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

// UpsertSubscription creates or refreshes the subscription for (promptID, agentID).
func (s *PostgresStore) UpsertSubscription(ctx context.Context, promptID, agentID string, now time.Time) (*Subscription, bool, error) {
	newID := uuid.New().String()
	sub := Subscription{PromptID: promptID, AgentID: agentID}

	err := retryTransient(ctx, func() error {
		return s.pool.QueryRow(ctx, `
			insert into prompt_subscriptions (id, prompt_id, agent_id, subscribed_at, last_pulled_at)
			values ($1, $2, $3, $4, $4)
			on conflict (prompt_id, agent_id) do update
			set last_pulled_at = greatest(prompt_subscriptions.last_pulled_at, excluded.last_pulled_at)
			returning id, subscribed_at, last_pulled_at
		`, newID, promptID, agentID, now.UTC()).Scan(&sub.ID, &sub.SubscribedAt, &sub.LastPulledAt)
	})
	if err != nil {
		return nil, false, mapPgErr(err, nil)
	}

	sub.SubscribedAt = sub.SubscribedAt.UTC()
	sub.LastPulledAt = sub.LastPulledAt.UTC()
	return &sub, sub.ID == newID, nil
}

// DeleteSubscription removes a subscription if present.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, promptID, agentID string) error {
	err := retryTransient(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`delete from prompt_subscriptions where prompt_id = $1 and agent_id = $2`, promptID, agentID)
		return err
	})
	return mapPgErr(err, nil)
}

// DeleteSubscriptionsOlderThan removes subscriptions last pulled before cutoff.
func (s *PostgresStore) DeleteSubscriptionsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryTransient(ctx, func() error {
		tag, err := s.pool.Exec(ctx, `delete from prompt_subscriptions where last_pulled_at < $1`, cutoff.UTC())
		if err != nil {
			return err
		}
		removed = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, mapPgErr(err, nil)
	}
	return removed, nil
}

const pgSubscriptionQuery = `
	select s.id, s.prompt_id, p.slug, s.agent_id, s.subscribed_at, s.last_pulled_at
	from prompt_subscriptions s
	join prompts p on p.id = s.prompt_id
`

// ListSubscriptionsByPrompt returns a prompt's subscribers, oldest first.
func (s *PostgresStore) ListSubscriptionsByPrompt(ctx context.Context, promptID string) ([]*Subscription, error) {
	return s.listSubscriptions(ctx, pgSubscriptionQuery+` where s.prompt_id = $1 order by s.subscribed_at, s.id`, promptID)
}

// ListSubscriptionsByAgent returns an agent's subscriptions, oldest first.
func (s *PostgresStore) ListSubscriptionsByAgent(ctx context.Context, agentID string) ([]*Subscription, error) {
	return s.listSubscriptions(ctx, pgSubscriptionQuery+` where s.agent_id = $1 order by s.subscribed_at, s.id`, agentID)
}

func (s *PostgresStore) listSubscriptions(ctx context.Context, query, arg string) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, mapPgErr(err, nil)
	}
	defer rows.Close()

	out := []*Subscription{}
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.PromptID, &sub.PromptSlug, &sub.AgentID, &sub.SubscribedAt, &sub.LastPulledAt); err != nil {
			return nil, mapPgErr(err, nil)
		}
		sub.SubscribedAt = sub.SubscribedAt.UTC()
		sub.LastPulledAt = sub.LastPulledAt.UTC()
		out = append(out, &sub)
	}
	return out, rows.Err()
}

// CountSubscriptionsByPrompt returns the number of subscribers of a prompt.
func (s *PostgresStore) CountSubscriptionsByPrompt(ctx context.Context, promptID string) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx,
		`select count(*) from prompt_subscriptions where prompt_id = $1`, promptID).Scan(&count); err != nil {
		return 0, mapPgErr(err, nil)
	}
	return count, nil
}

// retryTransient retries fn on serialization failures and deadlocks.
func retryTransient(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
			}
		}
		err = fn()
		if !isTransientPgErr(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func isTransientPgErr(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// mapPgErr translates driver errors into store errors. onUnique is returned
// for unique violations when the caller has a more specific meaning for them.
func mapPgErr(err error, onUnique error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if onUnique != nil {
				return onUnique
			}
			return fmt.Errorf("db_error %s: %s", pgErr.Code, pgErr.Message)
		case "23503":
			return ErrNotFound
		default:
			return fmt.Errorf("db_error %s: %s", pgErr.Code, pgErr.Message)
		}
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// Ensure PostgresStore implements Store interface
var _ Store = (*PostgresStore)(nil)
