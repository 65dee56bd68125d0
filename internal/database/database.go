// Package database opens a data file and assembles its composite store.
//
// A Database owns one physical engine, the live and dead stores inside it,
// and the bothstore.Store that presents them as a single key store.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	retry "github.com/sethvargo/go-retry"

	"github.com/roach88/docstore/internal/bothstore"
	"github.com/roach88/docstore/internal/config"
	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/memstore"
	"github.com/roach88/docstore/internal/sqlitestore"
)

// dataFile is the part of a physical engine the database drives.
type dataFile interface {
	Begin(ctx context.Context, observers ...keystore.TransactionObserver) (*keystore.Transaction, error)
	Close() error
}

// Option customizes Open.
type Option func(*options)

type options struct {
	clock keystore.Clock
}

// WithClock sets the wall clock used for expiration.
func WithClock(c keystore.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Database is an open data file with its composite store.
type Database struct {
	cfg   config.Config
	file  dataFile
	store *bothstore.Store
}

// Open opens the engine named by cfg.Engine and assembles the composite
// store from cfg.Stores. The dead store is attached to the live store's
// sequence counter before the composite is built.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{clock: keystore.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		file       dataFile
		live, dead keystore.KeyStore
		err        error
	)
	switch cfg.Engine {
	case config.EngineSQLite:
		file, live, dead, err = openSQLite(ctx, cfg, o)
	case config.EngineMemory:
		file, live, dead, err = openMemory(cfg, o)
	default:
		err = fmt.Errorf("unknown engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, err
	}

	dead.ShareSequencesWith(live)
	db := &Database{
		cfg:   cfg,
		file:  file,
		store: bothstore.New(live, dead),
	}
	slog.Debug("database opened", "engine", cfg.Engine, "path", cfg.Path,
		"live", cfg.Stores.Live, "dead", cfg.Stores.Dead)
	return db, nil
}

// openRetries bounds how often opening a file locked by another process
// (for example during its WAL checkpoint) is retried.
const openRetries = 5

func openSQLite(ctx context.Context, cfg config.Config, o options) (dataFile, keystore.KeyStore, keystore.KeyStore, error) {
	var df *sqlitestore.DataFile
	b := retry.NewFibonacci(50 * time.Millisecond)
	err := retry.Do(ctx, retry.WithMaxRetries(openRetries, b), func(ctx context.Context) error {
		var err error
		df, err = sqlitestore.Open(cfg.Path, sqlitestore.Options{
			Synchronous: cfg.SQLite.Synchronous,
			BusyTimeout: cfg.SQLite.BusyTimeout(),
			Clock:       o.clock,
		})
		if sqlitestore.IsBusy(err) {
			slog.Warn("data file busy, retrying open", "path", cfg.Path, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, nil, nil, err
	}
	live, err := df.KeyStore(ctx, cfg.Stores.Live)
	if err != nil {
		df.Close()
		return nil, nil, nil, fmt.Errorf("open live store: %w", err)
	}
	dead, err := df.KeyStore(ctx, cfg.Stores.Dead)
	if err != nil {
		df.Close()
		return nil, nil, nil, fmt.Errorf("open dead store: %w", err)
	}
	return df, live, dead, nil
}

func openMemory(cfg config.Config, o options) (dataFile, keystore.KeyStore, keystore.KeyStore, error) {
	df := memstore.NewDataFile(memstore.Options{Clock: o.clock})
	live, err := df.KeyStore(cfg.Stores.Live)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open live store: %w", err)
	}
	dead, err := df.KeyStore(cfg.Stores.Dead)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open dead store: %w", err)
	}
	return df, live, dead, nil
}

// Config returns the configuration the database was opened with.
func (db *Database) Config() config.Config {
	return db.cfg
}

// Store returns the composite store.
func (db *Database) Store() *bothstore.Store {
	return db.store
}

// Begin starts a transaction. The composite store observes it, so both
// physical stores see TransactionWillEnd.
func (db *Database) Begin(ctx context.Context) (*keystore.Transaction, error) {
	return db.file.Begin(ctx, db.store)
}

// InTransaction runs fn inside a transaction. The transaction commits when
// fn returns nil and rolls back when fn returns an error or panics.
func (db *Database) InTransaction(ctx context.Context, fn func(t *keystore.Transaction) error) (err error) {
	t, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := t.Rollback(); rbErr != nil {
				slog.Error("rollback after panic failed", "txn", t.ID(), "error", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(t); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := t.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the composite store and then the data file.
func (db *Database) Close() error {
	return errors.Join(db.store.Close(), db.file.Close())
}
