package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/docstore/internal/keystore"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added kvmeta.purge_cnt
const currentSchemaVersion = 1

// Options configures a DataFile.
type Options struct {
	// Synchronous is the PRAGMA synchronous mode: OFF, NORMAL or FULL.
	Synchronous string

	// BusyTimeout is how long to wait for a lock held by another process.
	BusyTimeout time.Duration

	// Clock supplies wall time for expiration. Defaults to the system clock.
	Clock keystore.Clock
}

// DefaultOptions returns NORMAL synchronous mode, a 5 second busy timeout
// and the system clock.
func DefaultOptions() Options {
	return Options{
		Synchronous: "NORMAL",
		BusyTimeout: 5 * time.Second,
		Clock:       keystore.SystemClock{},
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DataFile is one SQLite database holding any number of key stores.
type DataFile struct {
	db    *sql.DB
	path  string
	clock keystore.Clock

	mu      sync.Mutex
	stores  map[string]*KeyStore
	current *keystore.Transaction
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts Options) (*DataFile, error) {
	if opts.Synchronous == "" {
		opts.Synchronous = "NORMAL"
	}
	if opts.Clock == nil {
		opts.Clock = keystore.SystemClock{}
	}

	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory database
	// lives and dies with its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, opts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	slog.Debug("data file opened", "path", path)
	return &DataFile{
		db:     db,
		path:   path,
		clock:  opts.Clock,
		stores: make(map[string]*KeyStore),
	}, nil
}

// Path returns the path the file was opened with.
func (df *DataFile) Path() string {
	return df.path
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using KeyStore methods when available.
func (df *DataFile) DB() *sql.DB {
	return df.db
}

// KeyStore returns the named store, creating its table on first use.
// Store names must be identifiers ([A-Za-z_][A-Za-z0-9_]*).
func (df *DataFile) KeyStore(ctx context.Context, name string) (*KeyStore, error) {
	if !keystore.ValidIdentifier(name) {
		return nil, keystore.Errorf(keystore.ErrCodeInvalidArgument, "open store", name, "invalid store name")
	}

	df.mu.Lock()
	defer df.mu.Unlock()
	if ks, ok := df.stores[name]; ok {
		return ks, nil
	}

	ks := newKeyStore(df, name)
	if err := ks.createTable(ctx, df.querierLocked()); err != nil {
		return nil, err
	}
	df.stores[name] = ks
	return ks, nil
}

// StoreNames lists the stores that have a table in the file.
func (df *DataFile) StoreNames(ctx context.Context) ([]string, error) {
	rows, err := df.querier().QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name LIKE 'kv\_%' ESCAPE '\'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("scan store name: %w", err)
		}
		names = append(names, strings.TrimPrefix(table, "kv_"))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return names, nil
}

// Begin starts a transaction shared by every store of the file. Extra
// observers, then the stores, then the file are notified before it ends.
// Only one transaction may be open at a time.
func (df *DataFile) Begin(ctx context.Context, observers ...keystore.TransactionObserver) (*keystore.Transaction, error) {
	df.mu.Lock()
	defer df.mu.Unlock()
	if df.current != nil {
		return nil, fmt.Errorf("begin transaction: transaction %s already open", df.current.ID())
	}

	tx, err := df.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	all := make([]keystore.TransactionObserver, 0, len(observers)+len(df.stores)+1)
	all = append(all, observers...)
	for _, name := range slices.Sorted(maps.Keys(df.stores)) {
		all = append(all, df.stores[name])
	}
	all = append(all, df)
	t := keystore.NewTransaction(tx, all...)
	df.current = t
	slog.Debug("transaction begun", "txn", t.ID(), "path", df.path)
	return t, nil
}

// TransactionWillEnd releases the file's current transaction.
func (df *DataFile) TransactionWillEnd(bool) {
	df.mu.Lock()
	df.current = nil
	df.mu.Unlock()
}

// Close closes the database connection.
// Should be called when the file is no longer needed.
func (df *DataFile) Close() error {
	if df.db == nil {
		return nil
	}
	df.mu.Lock()
	for _, ks := range df.stores {
		ks.markClosed()
	}
	df.mu.Unlock()
	return df.db.Close()
}

// querier returns the open transaction, or the pool when none is open.
func (df *DataFile) querier() querier {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.querierLocked()
}

func (df *DataFile) querierLocked() querier {
	if df.current != nil {
		return df.current.SQL()
	}
	return df.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, opts Options) error {
	switch strings.ToUpper(opts.Synchronous) {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("invalid synchronous mode %q", opts.Synchronous)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = " + strings.ToUpper(opts.Synchronous),
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds kvmeta.purge_cnt to databases created before purges were
// counted. New databases get the column from schema.sql.
func migrateToV1(db *sql.DB) error {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('kvmeta') WHERE name = 'purge_cnt'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE kvmeta ADD COLUMN purge_cnt INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// IsBusy reports whether err was caused by another connection holding a
// lock on the database file.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (df *DataFile) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := df.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
