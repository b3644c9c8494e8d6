// Package store provides persistent storage for prompt-forge.
//
// # Architecture
//
// The store package splits its contract into two interfaces:
//
//   - PromptStore: prompts and their immutable version history
//   - SubscriptionStore: agent subscriptions to prompts
//
// Store combines both with Ping and Close. SQLiteStore (modernc.org/sqlite)
// is the default backend and PostgresStore (pgx) is the alternate one. Both
// implement the same contracts and are exercised by the same tests.
//
// # Subscriptions
//
// A subscription row is unique per (prompt_id, agent_id). UpsertSubscription is
// a single INSERT ... ON CONFLICT DO UPDATE statement, so concurrent first-time
// subscribers for the same pair converge on one row. last_pulled_at is only ever
// moved forward. Rows are removed by DeleteSubscription, by the cascade when the
// owning prompt is deleted, or by DeleteSubscriptionsOlderThan.
//
// # SQLite Configuration
//
// Pragmas are passed in the DSN so every pooled connection gets them:
//
//	_pragma=foreign_keys(1)
//	_pragma=busy_timeout(5000)
//	_pragma=journal_mode(WAL)   (file databases only)
//
// Timestamps are stored as fixed-width UTC text so range comparisons in SQL
// match chronological order.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicatePrompt: slug already taken
//   - ErrVersionConflict: version number taken by a concurrent commit
//   - ErrUnavailable: idempotent write still failing after bounded retries
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a temp-dir
// path for integration tests. Postgres tests run when PROMPTFORGE_TEST_POSTGRES_URL is set.
package store
