package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/config"
	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/testutil"
)

func testConfigs(t *testing.T) map[string]config.Config {
	t.Helper()
	sqlite := config.Default()
	sqlite.Path = filepath.Join(t.TempDir(), "test.db")
	memory := config.Default()
	memory.Engine = config.EngineMemory
	return map[string]config.Config{"sqlite": sqlite, "memory": memory}
}

func openTestDB(t *testing.T, cfg config.Config) *Database {
	t.Helper()
	db, err := Open(context.Background(), cfg, WithClock(testutil.NewFakeClock(testutil.Epoch)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_AssemblesComposite(t *testing.T) {
	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			db := openTestDB(t, cfg)
			assert.Equal(t, "default", db.Store().Name())
			assert.Equal(t, "default", db.Store().Live().Name())
			assert.Equal(t, "del_default", db.Store().Dead().Name())
			assert.Equal(t, cfg, db.Config())
		})
	}
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Stores.Dead = cfg.Stores.Live
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestOpen_StoresShareSequences(t *testing.T) {
	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			db := openTestDB(t, cfg)
			ctx := context.Background()
			st := db.Store()

			var liveSeq, deadSeq keystore.Sequence
			err := db.InTransaction(ctx, func(txn *keystore.Transaction) error {
				var err error
				liveSeq, err = st.Set(ctx, txn, keystore.SetRequest{Key: []byte("a"), Body: []byte(`{}`), NewSequence: true})
				if err != nil {
					return err
				}
				deadSeq, err = st.Set(ctx, txn, keystore.SetRequest{Key: []byte("b"), Flags: keystore.FlagDeleted, NewSequence: true})
				return err
			})
			require.NoError(t, err)

			assert.Equal(t, keystore.Sequence(1), liveSeq)
			assert.Equal(t, keystore.Sequence(2), deadSeq)
			last, err := st.Dead().LastSequence(ctx)
			require.NoError(t, err)
			assert.Equal(t, keystore.Sequence(2), last)
		})
	}
}

func TestInTransaction_RollsBackOnError(t *testing.T) {
	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			db := openTestDB(t, cfg)
			ctx := context.Background()
			boom := errors.New("boom")

			err := db.InTransaction(ctx, func(txn *keystore.Transaction) error {
				if _, err := db.Store().Set(ctx, txn, keystore.SetRequest{Key: []byte("a"), NewSequence: true}); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			rec := keystore.Record{Key: []byte("a")}
			found, err := db.Store().Read(ctx, &rec, keystore.MetaOnly)
			require.NoError(t, err)
			assert.False(t, found)

			// the data file accepts a new transaction afterwards
			require.NoError(t, db.InTransaction(ctx, func(*keystore.Transaction) error { return nil }))
		})
	}
}

func TestInTransaction_RollsBackOnPanic(t *testing.T) {
	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			db := openTestDB(t, cfg)
			ctx := context.Background()

			assert.PanicsWithValue(t, "kaboom", func() {
				_ = db.InTransaction(ctx, func(txn *keystore.Transaction) error {
					_, _ = db.Store().Set(ctx, txn, keystore.SetRequest{Key: []byte("a"), NewSequence: true})
					panic("kaboom")
				})
			})

			count, err := db.Store().RecordCount(ctx, true)
			require.NoError(t, err)
			assert.Zero(t, count)
			require.NoError(t, db.InTransaction(ctx, func(*keystore.Transaction) error { return nil }))
		})
	}
}

func TestDatabase_PersistsAcrossReopen(t *testing.T) {
	cfg := testConfigs(t)["sqlite"]
	ctx := context.Background()

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, db.InTransaction(ctx, func(txn *keystore.Transaction) error {
		_, err := db.Store().Set(ctx, txn, keystore.SetRequest{Key: []byte("gone"), Flags: keystore.FlagDeleted, NewSequence: true})
		return err
	}))
	require.NoError(t, db.Close())

	db, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	rec := keystore.Record{Key: []byte("gone")}
	found, err := db.Store().Dead().Read(ctx, &rec, keystore.MetaOnly)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, rec.Deleted())

	last, err := db.Store().LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, keystore.Sequence(1), last)
}

func TestClose_ClosesStores(t *testing.T) {
	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			db, err := Open(context.Background(), cfg)
			require.NoError(t, err)
			require.NoError(t, db.Close())

			_, err = db.Store().RecordCount(context.Background(), false)
			assert.ErrorIs(t, err, keystore.ErrClosed)
		})
	}
}
