/*
Package sqlite provides a SQLite-backed implementation of every repository.

PURPOSE:
  Implements pricing.Repository, finance.Repository, stock.Repository,
  coleta.Repository, audit.Store and generic.TxRunner over database/sql.
  The same statements run on PostgreSQL with placeholder changes only.

TRANSACTIONS:
  WithTx begins a *sql.Tx and stores it in the context handed to fn. Every
  repository method resolves its executor with s.q(ctx), so calls made with
  that context run inside the transaction. Nested WithTx joins it.

OPTIMISTIC LOCKING:
  installments.version is bumped on every state change:

    UPDATE installments SET paid = ?, canceled = ?, version = ?
     WHERE id = ? AND version = ?

  Zero affected rows means another writer got there first and the call
  returns generic.ErrConcurrentModification. SQLITE_BUSY from a writer that
  lost the database lock is reported the same way.

STORAGE FORMATS:
  Amounts and quantities are TEXT in canonical decimal form ("1234.50").
  Dates are TEXT YYYY-MM-DD. Timestamps are TEXT RFC 3339 (UTC).

KEY TABLES:
  contracts, collections
  ledger_entries, installments, payments (append-only)
  stock_movements, movement_lines, products
  audit_log

MIGRATION:
  Schema is auto-migrated on New(). Open() skips migration and is used by
  tests that drive the store through go-sqlmock.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: TxRunner contract
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/oleoverde/ledger-engine/audit"
	"github.com/oleoverde/ledger-engine/coleta"
	"github.com/oleoverde/ledger-engine/finance"
	"github.com/oleoverde/ledger-engine/generic"
	"github.com/oleoverde/ledger-engine/pricing"
	"github.com/oleoverde/ledger-engine/stock"
	"github.com/shopspring/decimal"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ generic.TxRunner   = (*Store)(nil)
	_ pricing.Repository = (*Store)(nil)
	_ finance.Repository = (*Store)(nil)
	_ stock.Repository   = (*Store)(nil)
	_ coleta.Repository  = (*Store)(nil)
	_ audit.Store        = (*Store)(nil)
)

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if dbPath == ":memory:" {
		dsn = ":memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := Open(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open wraps an existing handle without touching the schema.
func Open(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		exchange_factor INTEGER NOT NULL DEFAULT 0,
		unit_price TEXT,
		start_date TEXT,
		end_date TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contracts_client ON contracts(client_id);

	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		cp_name TEXT NOT NULL,
		cp_fantasy_name TEXT,
		cp_tax_id TEXT,
		collected_at TEXT NOT NULL,
		quantity_kg TEXT NOT NULL,
		pricing_mode TEXT NOT NULL,
		exchange_factor INTEGER NOT NULL DEFAULT 0,
		unit_price TEXT NOT NULL,
		contract_id TEXT,
		fallback INTEGER NOT NULL DEFAULT 0,
		delivered_units INTEGER NOT NULL DEFAULT 0,
		outcome_amount TEXT NOT NULL,
		outcome_note TEXT,
		flow TEXT NOT NULL,
		product_id TEXT NOT NULL,
		delivered_product_id TEXT,
		document_number TEXT,
		entry_id TEXT,
		movement_id TEXT,
		owner_id TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_collections_client ON collections(client_id, collected_at DESC);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL CHECK (direction IN ('credito', 'debito')),
		cp_name TEXT NOT NULL,
		cp_fantasy_name TEXT,
		cp_tax_id TEXT,
		description TEXT,
		total TEXT NOT NULL,
		issue_date TEXT NOT NULL,
		cost_center TEXT,
		collection_id TEXT,
		owner_id TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_issue ON ledger_entries(issue_date, direction);
	CREATE INDEX IF NOT EXISTS idx_entries_collection ON ledger_entries(collection_id) WHERE collection_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL REFERENCES ledger_entries(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		expected TEXT NOT NULL,
		paid TEXT NOT NULL,
		canceled INTEGER NOT NULL DEFAULT 0,
		account_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE (entry_id, sequence)
	);

	-- Append-only. An installment with payments cannot be deleted.
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		installment_id TEXT NOT NULL REFERENCES installments(id),
		entry_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		method TEXT NOT NULL,
		account_id TEXT,
		note TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_installment ON payments(installment_id, created_at);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL CHECK (direction IN ('entrada', 'saida')),
		origin TEXT NOT NULL CHECK (origin IN ('manual', 'coleta')),
		collection_id TEXT,
		document_number TEXT,
		counterparty TEXT,
		moved_at TEXT NOT NULL,
		owner_id TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	-- exactly one movement per collection
	CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_collection
		ON stock_movements(collection_id) WHERE collection_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_movements_moved_at ON stock_movements(moved_at);

	CREATE TABLE IF NOT EXISTS movement_lines (
		movement_id TEXT NOT NULL REFERENCES stock_movements(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (movement_id, line_no)
	);
	CREATE INDEX IF NOT EXISTS idx_movement_lines_product ON movement_lines(product_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		success INTEGER NOT NULL,
		code TEXT,
		payload_json TEXT,
		at TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	// Databases created before line directions existed.
	_, err := s.db.ExecContext(ctx, `ALTER TABLE movement_lines ADD COLUMN direction TEXT NOT NULL DEFAULT ''`)
	if err != nil && !strings.Contains(err.Error(), "duplicate column") {
		return err
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type txKey struct{}

type txState struct {
	owner *Store
	tx    *sql.Tx
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer sqlTx.Rollback()

	if err := fn(generic.WithinTx(context.WithValue(ctx, txKey{}, txState{owner: s, tx: sqlTx}))); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) txFrom(ctx context.Context) *sql.Tx {
	st, ok := ctx.Value(txKey{}).(txState)
	if !ok || st.owner != s {
		return nil
	}
	return st.tx
}

// q returns the transaction carried by ctx, or the database handle.
func (s *Store) q(ctx context.Context) querier {
	if tx := s.txFrom(ctx); tx != nil {
		return tx
	}
	return s.db
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e audit.Event) error {
	payload, err := marshalPayload(e.Payload)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO audit_log (action, actor_id, success, code, payload_json, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Action), e.ActorID, e.Success, nullString(e.Code), payload, formatTime(e.At),
	)
	return mapError(err)
}

// ListAudit returns the most recent audit events, newest first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT action, actor_id, success, code, payload_json, at
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e            audit.Event
			action, at   string
			code, rawPay sql.NullString
		)
		if err := rows.Scan(&action, &e.ActorID, &e.Success, &code, &rawPay, &at); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		e.Code = code.String
		if e.Payload, err = unmarshalPayload(rawPay.String); err != nil {
			return nil, err
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatDate(d generic.Date) sql.NullString {
	return nullString(d.String())
}

func parseDate(s sql.NullString) (generic.Date, error) {
	if !s.Valid || s.String == "" {
		return generic.Date{}, nil
	}
	t, err := time.Parse(generic.DateLayout, s.String)
	if err != nil {
		return generic.Date{}, fmt.Errorf("invalid date %q: %w", s.String, err)
	}
	return generic.DateOf(t), nil
}

func parseAmount(s string) (generic.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return generic.NewAmountFromDecimal(d), nil
}

func parseQuantity(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored quantity %q: %w", s, err)
	}
	return d, nil
}

func marshalPayload(p map[string]any) (sql.NullString, error) {
	if len(p) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode audit payload: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalPayload(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var p map[string]any
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("failed to decode audit payload: %w", err)
	}
	return p, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// mapError turns lock contention into a retryable concurrency conflict.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return generic.Detail(generic.ErrConcurrentModification, "database is locked by another writer: %v", err)
	}
	return err
}
