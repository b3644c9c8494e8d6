// ABOUTME: SQLite persistence for prompts and their version history
// ABOUTME: Version numbers are assigned inside an immediate transaction per commit

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CreatePrompt inserts a new prompt.
// Returns ErrDuplicatePrompt if the slug is already taken.
func (s *SQLiteStore) CreatePrompt(ctx context.Context, prompt *Prompt) error {
	tags := prompt.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prompts (id, slug, name, type, description, tags_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		prompt.ID,
		prompt.Slug,
		prompt.Name,
		prompt.Type,
		prompt.Description,
		string(tagsJSON),
		formatTime(prompt.CreatedAt),
		formatTime(prompt.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePrompt
		}
		return fmt.Errorf("inserting prompt: %w", err)
	}

	s.logger.Debug("created prompt", "id", prompt.ID, "slug", prompt.Slug)
	return nil
}

const promptColumns = `id, slug, name, type, description, tags_json, created_at, updated_at`

// GetPrompt retrieves a prompt by ID.
// Returns ErrNotFound if the prompt doesn't exist.
func (s *SQLiteStore) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id)
	return scanPrompt(row)
}

// GetPromptBySlug retrieves a prompt by its slug.
// Returns ErrNotFound if the prompt doesn't exist.
func (s *SQLiteStore) GetPromptBySlug(ctx context.Context, slug string) (*Prompt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE slug = ?`, slug)
	return scanPrompt(row)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (*Prompt, error) {
	var p Prompt
	var tagsJSON, createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Type, &p.Description, &tagsJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning prompt: %w", err)
	}

	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// ListPrompts returns prompts ordered by slug.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListPrompts(ctx context.Context, limit int) ([]*Prompt, error) {
	limit = clampLimit(limit, 100, 1000)

	rows, err := s.db.QueryContext(ctx, `SELECT `+promptColumns+` FROM prompts ORDER BY slug LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying prompts: %w", err)
	}
	defer rows.Close()

	var prompts []*Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating prompt rows: %w", err)
	}
	return prompts, nil
}

// DeletePrompt removes a prompt. Versions and subscriptions go with it via ON DELETE CASCADE.
// Returns ErrNotFound if the prompt doesn't exist.
func (s *SQLiteStore) DeletePrompt(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting prompt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted prompt", "id", id)
	return nil
}

// CommitVersion stores v as the next version of its prompt.
// Returns ErrNotFound if the prompt doesn't exist.
func (s *SQLiteStore) CommitVersion(ctx context.Context, v *Version) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return 0, fmt.Errorf("beginning commit: %w: %v", ErrUnavailable, err)
		}
		return 0, fmt.Errorf("beginning commit: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM prompts WHERE id = ?`, v.PromptID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("checking prompt: %w", err)
	}

	var previous int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM prompt_versions WHERE prompt_id = ?`, v.PromptID,
	).Scan(&previous); err != nil {
		return 0, fmt.Errorf("reading latest version: %w", err)
	}

	v.Version = previous + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO prompt_versions (id, prompt_id, version, content, message, author, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.PromptID, v.Version, v.Content, v.Message, v.Author, v.ContentHash, formatTime(v.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrVersionConflict
		}
		return 0, fmt.Errorf("inserting version: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE prompts SET updated_at = ? WHERE id = ?`, formatTime(v.CreatedAt), v.PromptID,
	); err != nil {
		return 0, fmt.Errorf("touching prompt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing version: %w", err)
	}

	s.logger.Debug("committed version", "prompt_id", v.PromptID, "version", v.Version)
	return previous, nil
}

const versionColumns = `id, prompt_id, version, content, message, author, content_hash, created_at`

// GetVersion retrieves one version of a prompt.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetVersion(ctx context.Context, promptID string, version int) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE prompt_id = ? AND version = ?`,
		promptID, version)
	return scanVersion(row)
}

// GetLatestVersion retrieves the highest-numbered version of a prompt.
// Returns ErrNotFound if the prompt has no versions.
func (s *SQLiteStore) GetLatestVersion(ctx context.Context, promptID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE prompt_id = ? ORDER BY version DESC LIMIT 1`,
		promptID)
	return scanVersion(row)
}

// ListVersions returns the version history of a prompt, newest first.
func (s *SQLiteStore) ListVersions(ctx context.Context, promptID string, limit int) ([]*Version, error) {
	limit = clampLimit(limit, 50, 200)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE prompt_id = ? ORDER BY version DESC LIMIT ?`,
		promptID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer rows.Close()

	var versions []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating version rows: %w", err)
	}
	return versions, nil
}

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var createdAt string

	err := row.Scan(&v.ID, &v.PromptID, &v.Version, &v.Content, &v.Message, &v.Author, &v.ContentHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning version: %w", err)
	}

	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &v, nil
}

// clampLimit applies a default for non-positive limits and caps the maximum
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
