package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/testutil"
)

// createTestFile opens a SQLite data file in a temp dir with a fake clock.
func createTestFile(t *testing.T) (*DataFile, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	opts := DefaultOptions()
	opts.Clock = clock
	df, err := Open(filepath.Join(t.TempDir(), "test.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { df.Close() })
	return df, clock
}

// createTestStore opens the "default" store of a fresh data file.
func createTestStore(t *testing.T) (*DataFile, *KeyStore) {
	t.Helper()
	df, _ := createTestFile(t)
	ks, err := df.KeyStore(context.Background(), "default")
	require.NoError(t, err)
	return df, ks
}

// inTxn runs fn in a transaction and commits it.
func inTxn(t *testing.T, df *DataFile, fn func(txn *keystore.Transaction)) {
	t.Helper()
	txn, err := df.Begin(context.Background())
	require.NoError(t, err)
	fn(txn)
	require.NoError(t, txn.Commit())
}

// put writes key unconditionally with a fresh sequence.
func put(t *testing.T, ks keystore.KeyStore, txn *keystore.Transaction, key, body string) keystore.Sequence {
	t.Helper()
	seq, err := ks.Set(context.Background(), txn, keystore.SetRequest{
		Key:         []byte(key),
		Version:     []byte("1-a"),
		Body:        []byte(body),
		NewSequence: true,
	})
	require.NoError(t, err)
	require.NotZero(t, seq)
	return seq
}
