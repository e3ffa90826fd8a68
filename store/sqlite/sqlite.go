/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.Store, ledger.TxStore, and ledger.AuditStore using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the entries table
  - Corrections via offsetting entries only

KEY TABLES:
  accounts:       Cached balance + referral code per account
  entries:        Immutable ledger of all balance changes
  referral_edges: referrer -> referee relationships with status
  audit_runs:     Reconciliation sweep records

INDEXES:
  - UNIQUE(account_id, idempotency_key) on entries: the idempotency record
  - UNIQUE(referee_id) on referral_edges: first referral wins
  - idx_entries_account_created: statement generation (hot path)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; WithTx holds the write lock for the
  whole transaction, which serializes concurrent mutations the same way
  row-level locking would in PostgreSQL.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

USAGE:
  store, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/corepath/rewards-ledger/ledger"
)

// Store implements the ledger storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection gets its own in-memory database; pin the
		// pool to one so tests see a single schema.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, q: queries{db: db}}
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
	-- Accounts (balance is a cache of the entries fold)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0,
		referral_code TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		source_ref TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the idempotency record. A retried business event maps to
	-- the same (account, key) pair and must hit this constraint.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_idempotency
		ON entries(account_id, idempotency_key);

	-- Statement generation (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_account_created
		ON entries(account_id, created_at, id);

	-- Referral edges (one edge per referee, one direction only)
	CREATE TABLE IF NOT EXISTS referral_edges (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL REFERENCES accounts(id),
		referee_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_edges_referrer
		ON referral_edges(referrer_id);

	-- Reconciliation sweeps
	CREATE TABLE IF NOT EXISTS audit_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		accounts_checked INTEGER NOT NULL DEFAULT 0,
		drift_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_runs_started
		ON audit_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.createAccount(ctx, a)
}

func (s *Store) Account(ctx context.Context, id string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.account(ctx, id)
}

func (s *Store) AccountByReferralCode(ctx context.Context, code string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.accountByReferralCode(ctx, code)
}

func (s *Store) AddToBalance(ctx context.Context, accountID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.addToBalance(ctx, accountID, delta)
}

func (s *Store) AccountIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.accountIDs(ctx)
}

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.appendEntry(ctx, e)
}

func (s *Store) EntryByIdempotencyKey(ctx context.Context, accountID, key string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.entryByIdempotencyKey(ctx, accountID, key)
}

func (s *Store) EntriesFor(ctx context.Context, accountID string, since *time.Time) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.entriesFor(ctx, accountID, since)
}

func (s *Store) SumDeltas(ctx context.Context, accountID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.sumDeltas(ctx, accountID)
}

func (s *Store) CreateEdge(ctx context.Context, e ledger.ReferralEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.createEdge(ctx, e)
}

func (s *Store) Edge(ctx context.Context, id string) (*ledger.ReferralEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.edge(ctx, id)
}

func (s *Store) EdgeByReferee(ctx context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.edgeByReferee(ctx, refereeID)
}

func (s *Store) EdgesByReferrer(ctx context.Context, referrerID string) ([]ledger.ReferralEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.edgesByReferrer(ctx, referrerID)
}

func (s *Store) TransitionEdge(ctx context.Context, id string, from, to ledger.EdgeStatus, completedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.transitionEdge(ctx, id, from, to, completedAt)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store write
// lock is held for the duration, serializing concurrent transactions.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: queries{db: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStorageUnavailable, err)
	}
	return nil
}

// txStore is the in-transaction view. All queries run on the *sql.Tx; the
// parent's lock is already held, so no locking here.
type txStore struct {
	q queries
}

func (ts *txStore) CreateAccount(ctx context.Context, a ledger.Account) error {
	return ts.q.createAccount(ctx, a)
}

func (ts *txStore) Account(ctx context.Context, id string) (*ledger.Account, error) {
	return ts.q.account(ctx, id)
}

func (ts *txStore) AccountByReferralCode(ctx context.Context, code string) (*ledger.Account, error) {
	return ts.q.accountByReferralCode(ctx, code)
}

func (ts *txStore) AddToBalance(ctx context.Context, accountID string, delta int64) error {
	return ts.q.addToBalance(ctx, accountID, delta)
}

func (ts *txStore) AccountIDs(ctx context.Context) ([]string, error) {
	return ts.q.accountIDs(ctx)
}

func (ts *txStore) AppendEntry(ctx context.Context, e ledger.Entry) error {
	return ts.q.appendEntry(ctx, e)
}

func (ts *txStore) EntryByIdempotencyKey(ctx context.Context, accountID, key string) (*ledger.Entry, error) {
	return ts.q.entryByIdempotencyKey(ctx, accountID, key)
}

func (ts *txStore) EntriesFor(ctx context.Context, accountID string, since *time.Time) ([]ledger.Entry, error) {
	return ts.q.entriesFor(ctx, accountID, since)
}

func (ts *txStore) SumDeltas(ctx context.Context, accountID string) (int64, error) {
	return ts.q.sumDeltas(ctx, accountID)
}

func (ts *txStore) CreateEdge(ctx context.Context, e ledger.ReferralEdge) error {
	return ts.q.createEdge(ctx, e)
}

func (ts *txStore) Edge(ctx context.Context, id string) (*ledger.ReferralEdge, error) {
	return ts.q.edge(ctx, id)
}

func (ts *txStore) EdgeByReferee(ctx context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	return ts.q.edgeByReferee(ctx, refereeID)
}

func (ts *txStore) EdgesByReferrer(ctx context.Context, referrerID string) ([]ledger.ReferralEdge, error) {
	return ts.q.edgesByReferrer(ctx, referrerID)
}

func (ts *txStore) TransitionEdge(ctx context.Context, id string, from, to ledger.EdgeStatus, completedAt *time.Time) (bool, error) {
	return ts.q.transitionEdge(ctx, id, from, to, completedAt)
}

// =============================================================================
// QUERIES - Shared between the store and its transactions
// =============================================================================

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// --- accounts ---

func (q queries) createAccount(ctx context.Context, a ledger.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, referral_code, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, a.ID, a.Balance, nullString(a.ReferralCode), a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (q queries) account(ctx context.Context, id string) (*ledger.Account, error) {
	return q.scanAccount(q.db.QueryRowContext(ctx,
		"SELECT id, balance, referral_code, created_at FROM accounts WHERE id = ?", id))
}

func (q queries) accountByReferralCode(ctx context.Context, code string) (*ledger.Account, error) {
	return q.scanAccount(q.db.QueryRowContext(ctx,
		"SELECT id, balance, referral_code, created_at FROM accounts WHERE referral_code = ?", code))
}

func (q queries) scanAccount(row *sql.Row) (*ledger.Account, error) {
	var (
		a         ledger.Account
		code      sql.NullString
		createdAt string
	)
	err := row.Scan(&a.ID, &a.Balance, &code, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.ReferralCode = code.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

func (q queries) addToBalance(ctx context.Context, accountID string, delta int64) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE accounts SET balance = balance + ? WHERE id = ?", delta, accountID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (q queries) accountIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT id FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- entries ---

func (q queries) appendEntry(ctx context.Context, e ledger.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO entries (id, account_id, delta, reason, idempotency_key, source_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountID, e.Delta, string(e.Reason), e.IdempotencyKey,
		nullString(e.SourceRef), e.CreatedAt.Format(time.RFC3339))

	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (q queries) entryByIdempotencyKey(ctx context.Context, accountID, key string) (*ledger.Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, account_id, delta, reason, idempotency_key, source_ref, created_at
		FROM entries
		WHERE account_id = ? AND idempotency_key = ?
	`, accountID, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (q queries) entriesFor(ctx context.Context, accountID string, since *time.Time) ([]ledger.Entry, error) {
	query := `
		SELECT id, account_id, delta, reason, idempotency_key, source_ref, created_at
		FROM entries
		WHERE account_id = ?
	`
	args := []any{accountID}
	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, since.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		reason    string
		sourceRef sql.NullString
		createdAt string
	)
	if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &reason,
		&e.IdempotencyKey, &sourceRef, &createdAt); err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Reason = ledger.Reason(reason)
	e.SourceRef = sourceRef.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return e, nil
}

func (q queries) sumDeltas(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(delta), 0) FROM entries WHERE account_id = ?",
		accountID,
	).Scan(&sum)
	return sum, err
}

// --- referral edges ---

func (q queries) createEdge(ctx context.Context, e ledger.ReferralEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var completedAt *string
	if e.CompletedAt != nil {
		t := e.CompletedAt.Format(time.RFC3339)
		completedAt = &t
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO referral_edges (id, referrer_id, referee_id, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.ReferrerID, e.RefereeID, string(e.Status),
		e.CreatedAt.Format(time.RFC3339), completedAt)

	if err != nil {
		if isUniqueConstraintError(err) {
			existing, rerr := q.edgeByReferee(ctx, e.RefereeID)
			if rerr == nil && existing != nil {
				return &ledger.RefereeAlreadyReferredError{
					RefereeID:      e.RefereeID,
					ExistingEdgeID: existing.ID,
				}
			}
			return &ledger.RefereeAlreadyReferredError{RefereeID: e.RefereeID}
		}
		return fmt.Errorf("failed to create edge: %w", err)
	}
	return nil
}

func (q queries) edge(ctx context.Context, id string) (*ledger.ReferralEdge, error) {
	return q.scanEdgeRow(q.db.QueryRowContext(ctx, `
		SELECT id, referrer_id, referee_id, status, created_at, completed_at
		FROM referral_edges WHERE id = ?`, id))
}

func (q queries) edgeByReferee(ctx context.Context, refereeID string) (*ledger.ReferralEdge, error) {
	return q.scanEdgeRow(q.db.QueryRowContext(ctx, `
		SELECT id, referrer_id, referee_id, status, created_at, completed_at
		FROM referral_edges WHERE referee_id = ?`, refereeID))
}

func (q queries) scanEdgeRow(row *sql.Row) (*ledger.ReferralEdge, error) {
	var (
		e           ledger.ReferralEdge
		status      string
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&e.ID, &e.ReferrerID, &e.RefereeID, &status, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan edge: %w", err)
	}
	e.Status = ledger.EdgeStatus(status)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		e.CompletedAt = &t
	}
	return &e, nil
}

func (q queries) edgesByReferrer(ctx context.Context, referrerID string) ([]ledger.ReferralEdge, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, referrer_id, referee_id, status, created_at, completed_at
		FROM referral_edges
		WHERE referrer_id = ?
		ORDER BY created_at ASC
	`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []ledger.ReferralEdge
	for rows.Next() {
		var (
			e           ledger.ReferralEdge
			status      string
			createdAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ReferrerID, &e.RefereeID, &status, &createdAt, &completedAt); err != nil {
			return nil, err
		}
		e.Status = ledger.EdgeStatus(status)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			e.CompletedAt = &t
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (q queries) transitionEdge(ctx context.Context, id string, from, to ledger.EdgeStatus, completedAt *time.Time) (bool, error) {
	var completedStr *string
	if completedAt != nil {
		t := completedAt.UTC().Format(time.RFC3339)
		completedStr = &t
	}

	// Compare-and-set: the WHERE clause guarantees only one concurrent
	// transition wins; the loser sees zero rows affected.
	res, err := q.db.ExecContext(ctx, `
		UPDATE referral_edges
		SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?
	`, string(to), completedStr, id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition edge: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		// Distinguish a lost CAS from a missing edge.
		existing, rerr := q.edge(ctx, id)
		if rerr != nil {
			return false, rerr
		}
		if existing == nil {
			return false, ledger.ErrEdgeNotFound
		}
		return false, nil
	}
	return true, nil
}

// =============================================================================
// AUDIT RUNS (ledger.AuditStore interface)
// =============================================================================

func (s *Store) SaveAuditRun(ctx context.Context, run ledger.AuditRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt *string
	if run.CompletedAt != nil {
		t := run.CompletedAt.Format(time.RFC3339)
		completedAt = &t
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_runs (id, started_at, completed_at, accounts_checked, drift_count, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			accounts_checked = excluded.accounts_checked,
			drift_count = excluded.drift_count,
			status = excluded.status,
			error = excluded.error
	`, run.ID, run.StartedAt.Format(time.RFC3339), completedAt,
		run.AccountsChecked, run.DriftCount, run.Status, run.Error)
	return err
}

func (s *Store) AuditRuns(ctx context.Context, limit int) ([]ledger.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, accounts_checked, drift_count, status, error
		FROM audit_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ledger.AuditRun
	for rows.Next() {
		var (
			r           ledger.AuditRun
			startedAt   string
			completedAt sql.NullString
			errStr      sql.NullString
		)
		if err := rows.Scan(&r.ID, &startedAt, &completedAt,
			&r.AccountsChecked, &r.DriftCount, &r.Status, &errStr); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			r.CompletedAt = &t
		}
		r.Error = errStr.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// SetBalance overwrites a cached balance without a ledger entry.
// Exists only so reconciliation tests can inject drift; the accrual path
// never calls it.
func (s *Store) SetBalance(ctx context.Context, accountID string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ?", balance, accountID)
	return err
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
