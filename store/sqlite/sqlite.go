/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements rewards.Store (program config, contributors, period summaries,
  events) and the payout outbox using SQLite. The same patterns apply to
  PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  rewards.Store:        Accounts + WithTx
  generic.EventStore:   Append-only audit events
  rewards.PayoutOutbox: Transfer requests for the custody system

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the events table
  - No UPDATE statements on period_summaries
  - idempotency_key is UNIQUE, so a retried operation fails as a duplicate

KEY TABLES:
  program_config:   Single row (id = 1), the PointsConfig record
  contributors:     One row per contributor
  events:           Immutable audit log, ordered by seq
  period_summaries: One row per closed period
  payouts:          Outbox of transfer requests

COUNTERS:
  Counters are uint64, which SQLite INTEGER cannot hold above 2^63-1. The
  records are stored as JSON documents, with the columns needed for lookup
  and filtering alongside.

CONCURRENCY:
  Every write runs in a database transaction behind sync.RWMutex, and the
  connection pool is limited to one connection so ":memory:" databases are
  shared by every call. Reads inside WithTx go through the sql.Tx.

USAGE:
  store, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := rewards.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - rewards/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/rewards"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ rewards.Store        = (*Store)(nil)
	_ rewards.PayoutOutbox = (*Store)(nil)
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Program config (singleton)
	CREATE TABLE IF NOT EXISTS program_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		authority TEXT NOT NULL,
		current_period TEXT NOT NULL,
		config_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Contributors
	CREATE TABLE IF NOT EXISTS contributors (
		id TEXT PRIMARY KEY,
		authority TEXT NOT NULL,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		record_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contributors_authority
		ON contributors(authority);

	-- Events (append-only audit log)
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		account TEXT NOT NULL,
		actor TEXT NOT NULL,
		period TEXT NOT NULL,
		attributes_json TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_account
		ON events(account, seq);
	CREATE INDEX IF NOT EXISTS idx_events_kind
		ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_idempotency
		ON events(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Closed periods
	CREATE TABLE IF NOT EXISTS period_summaries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		period TEXT NOT NULL UNIQUE,
		summary_json TEXT NOT NULL,
		closed_at TEXT NOT NULL
	);

	-- Payout outbox
	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		recipient TEXT NOT NULL,
		tokens TEXT NOT NULL,
		reference TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_status
		ON payouts(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (rewards.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx rewards.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every statement on q. Inside WithTx q is the sql.Tx and the
// store lock is already held.
type txStore struct {
	q queryer
}

func (s *Store) Config(ctx context.Context) (*rewards.PointsConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return txStore{q: s.db}.Config(ctx)
}

func (s *Store) SaveConfig(ctx context.Context, cfg *rewards.PointsConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return txStore{q: s.db}.SaveConfig(ctx, cfg)
}

func (s *Store) Contributor(ctx context.Context, id generic.Identity) (*rewards.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return txStore{q: s.db}.Contributor(ctx, id)
}

func (s *Store) SaveContributor(ctx context.Context, c *rewards.Contributor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return txStore{q: s.db}.SaveContributor(ctx, c)
}

func (s *Store) Contributors(ctx context.Context) ([]*rewards.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return txStore{q: s.db}.Contributors(ctx)
}

func (s *Store) SavePeriodSummary(ctx context.Context, summary rewards.PeriodSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return txStore{q: s.db}.SavePeriodSummary(ctx, summary)
}

func (s *Store) PeriodSummaries(ctx context.Context) ([]rewards.PeriodSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return txStore{q: s.db}.PeriodSummaries(ctx)
}

// Events returns the append-only event store.
func (s *Store) Events() generic.EventStore {
	return lockedEvents{s: s}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (ts txStore) Config(ctx context.Context) (*rewards.PointsConfig, error) {
	var data string
	err := ts.q.QueryRowContext(ctx, "SELECT config_json FROM program_config WHERE id = 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	var cfg rewards.PointsConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func (ts txStore) SaveConfig(ctx context.Context, cfg *rewards.PointsConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = ts.q.ExecContext(ctx, `
		INSERT INTO program_config (id, authority, current_period, config_json, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			authority = excluded.authority,
			current_period = excluded.current_period,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, cfg.Authority, generic.FormatUint(cfg.CurrentPeriod), string(data), now())
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func (ts txStore) Contributor(ctx context.Context, id generic.Identity) (*rewards.Contributor, error) {
	var data string
	err := ts.q.QueryRowContext(ctx, "SELECT record_json FROM contributors WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrContributorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contributor: %w", err)
	}
	return decodeContributor(data)
}

func (ts txStore) SaveContributor(ctx context.Context, c *rewards.Contributor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode contributor: %w", err)
	}
	_, err = ts.q.ExecContext(ctx, `
		INSERT INTO contributors (id, authority, is_verified, record_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			authority = excluded.authority,
			is_verified = excluded.is_verified,
			record_json = excluded.record_json,
			updated_at = excluded.updated_at
	`, c.ID, c.Authority, c.IsVerified, string(data), c.CreatedAt.UTC().Format(time.RFC3339Nano), now())
	if err != nil {
		return fmt.Errorf("failed to save contributor: %w", err)
	}
	return nil
}

func (ts txStore) Contributors(ctx context.Context) ([]*rewards.Contributor, error) {
	rows, err := ts.q.QueryContext(ctx, "SELECT record_json FROM contributors ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query contributors: %w", err)
	}
	defer rows.Close()

	var out []*rewards.Contributor
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan contributor: %w", err)
		}
		c, err := decodeContributor(data)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeContributor(data string) (*rewards.Contributor, error) {
	var c rewards.Contributor
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to decode contributor: %w", err)
	}
	if c.TypePoints == nil {
		c.TypePoints = make(map[rewards.ContributionType]uint64)
	}
	return &c, nil
}

func (ts txStore) SavePeriodSummary(ctx context.Context, summary rewards.PeriodSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode period summary: %w", err)
	}
	_, err = ts.q.ExecContext(ctx,
		"INSERT INTO period_summaries (period, summary_json, closed_at) VALUES (?, ?, ?)",
		generic.FormatUint(summary.Period), string(data), summary.ClosedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save period summary: %w", err)
	}
	return nil
}

func (ts txStore) PeriodSummaries(ctx context.Context) ([]rewards.PeriodSummary, error) {
	rows, err := ts.q.QueryContext(ctx, "SELECT summary_json FROM period_summaries ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query period summaries: %w", err)
	}
	defer rows.Close()

	var out []rewards.PeriodSummary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan period summary: %w", err)
		}
		var summary rewards.PeriodSummary
		if err := json.Unmarshal([]byte(data), &summary); err != nil {
			return nil, fmt.Errorf("failed to decode period summary: %w", err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (ts txStore) Events() generic.EventStore {
	return ts
}

// =============================================================================
// EVENT STORE (generic.EventStore interface)
// =============================================================================

func (ts txStore) Append(ctx context.Context, evt generic.Event) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode event attributes: %w", err)
	}
	_, err = ts.q.ExecContext(ctx, `
		INSERT INTO events
		(id, kind, account, actor, period, attributes_json, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		evt.ID,
		evt.Kind,
		evt.Account,
		evt.Actor,
		generic.FormatUint(evt.Period),
		string(attrs),
		nullString(evt.IdempotencyKey),
		evt.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (ts txStore) AppendBatch(ctx context.Context, evts []generic.Event) error {
	for _, evt := range evts {
		if err := ts.Append(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (ts txStore) Query(ctx context.Context, filter generic.EventFilter) ([]generic.Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.Account != nil {
		where = append(where, "account = ?")
		args = append(args, *filter.Account)
	}
	if filter.Period != nil {
		where = append(where, "period = ?")
		args = append(args, generic.FormatUint(*filter.Period))
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, k)
		}
		where = append(where, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT id, kind, account, actor, period, attributes_json, idempotency_key, created_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := ts.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []generic.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (ts txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := ts.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func scanEvent(rows *sql.Rows) (generic.Event, error) {
	var (
		evt            generic.Event
		period         string
		attrs          sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)
	err := rows.Scan(&evt.ID, &evt.Kind, &evt.Account, &evt.Actor, &period, &attrs, &idempotencyKey, &createdAt)
	if err != nil {
		return evt, fmt.Errorf("failed to scan event: %w", err)
	}
	if evt.Period, err = parseUint(period); err != nil {
		return evt, fmt.Errorf("event %s: bad period: %w", evt.ID, err)
	}
	evt.IdempotencyKey = idempotencyKey.String
	evt.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return evt, fmt.Errorf("event %s: bad created_at: %w", evt.ID, err)
	}
	if attrs.Valid && attrs.String != "" && attrs.String != "null" {
		if err := json.Unmarshal([]byte(attrs.String), &evt.Attributes); err != nil {
			return evt, fmt.Errorf("event %s: bad attributes: %w", evt.ID, err)
		}
	}
	return evt, nil
}

// lockedEvents takes the store lock around every event store call made
// outside a transaction.
type lockedEvents struct {
	s *Store
}

func (le lockedEvents) Append(ctx context.Context, evt generic.Event) error {
	le.s.mu.Lock()
	defer le.s.mu.Unlock()
	return txStore{q: le.s.db}.Append(ctx, evt)
}

func (le lockedEvents) AppendBatch(ctx context.Context, evts []generic.Event) error {
	le.s.mu.Lock()
	defer le.s.mu.Unlock()

	sqlTx, err := le.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (txStore{q: sqlTx}).AppendBatch(ctx, evts); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (le lockedEvents) Query(ctx context.Context, filter generic.EventFilter) ([]generic.Event, error) {
	le.s.mu.RLock()
	defer le.s.mu.RUnlock()
	return txStore{q: le.s.db}.Query(ctx, filter)
}

func (le lockedEvents) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	le.s.mu.RLock()
	defer le.s.mu.RUnlock()
	return txStore{q: le.s.db}.Exists(ctx, idempotencyKey)
}

// =============================================================================
// PAYOUT OUTBOX (rewards.PayoutOutbox interface)
// =============================================================================

// Transfer records a pending payout for the custody system.
func (s *Store) Transfer(ctx context.Context, to generic.Identity, tokens uint64, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payouts (id, recipient, tokens, reference, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), to, generic.FormatUint(tokens), reference, rewards.PayoutPending, now())
	if err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	return nil
}

// Payouts returns recorded payouts in request order.
func (s *Store) Payouts(ctx context.Context) ([]rewards.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, recipient, tokens, reference, status, created_at FROM payouts ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var out []rewards.Payout
	for rows.Next() {
		var (
			p         rewards.Payout
			tokens    string
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Recipient, &tokens, &p.Reference, &p.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		if p.Tokens, err = parseUint(tokens); err != nil {
			return nil, fmt.Errorf("payout %s: bad tokens: %w", p.ID, err)
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("payout %s: bad created_at: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"events", "period_summaries", "payouts", "contributors", "program_config"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
