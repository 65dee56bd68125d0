package bothstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/memstore"
	"github.com/roach88/docstore/internal/sqlitestore"
	"github.com/roach88/docstore/internal/testutil"
)

// fixture is a composite store over one engine's data file.
type fixture struct {
	store *Store
	live  keystore.KeyStore
	dead  keystore.KeyStore
	clock *testutil.FakeClock
	begin func() *keystore.Transaction
}

type engine struct {
	name string
	open func(t *testing.T) *fixture
}

func engines() []engine {
	return []engine{
		{"sqlite", openSQLite},
		{"memory", openMemory},
	}
}

// forEachEngine runs fn once per physical engine.
func forEachEngine(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			fn(t, e.open(t))
		})
	}
}

func openSQLite(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := testutil.NewFakeClock(time.Time{})
	opts := sqlitestore.DefaultOptions()
	opts.Clock = clock
	df, err := sqlitestore.Open(filepath.Join(t.TempDir(), "test.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { df.Close() })

	live, err := df.KeyStore(ctx, "default")
	require.NoError(t, err)
	dead, err := df.KeyStore(ctx, "del_default")
	require.NoError(t, err)
	dead.ShareSequencesWith(live)

	return &fixture{
		store: New(live, dead),
		live:  live,
		dead:  dead,
		clock: clock,
		begin: func() *keystore.Transaction {
			txn, err := df.Begin(ctx)
			require.NoError(t, err)
			return txn
		},
	}
}

func openMemory(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	df := memstore.NewDataFile(memstore.Options{Clock: clock})
	t.Cleanup(func() { df.Close() })

	live, err := df.KeyStore("default")
	require.NoError(t, err)
	dead, err := df.KeyStore("del_default")
	require.NoError(t, err)
	dead.ShareSequencesWith(live)

	return &fixture{
		store: New(live, dead),
		live:  live,
		dead:  dead,
		clock: clock,
		begin: func() *keystore.Transaction {
			txn, err := df.Begin(context.Background())
			require.NoError(t, err)
			return txn
		},
	}
}

// set runs one Set in its own committed transaction.
func (f *fixture) set(t *testing.T, req keystore.SetRequest) keystore.Sequence {
	t.Helper()
	txn := f.begin()
	seq, err := f.store.Set(context.Background(), txn, req)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	return seq
}

// put writes a live record unconditionally.
func (f *fixture) put(t *testing.T, key, body string) keystore.Sequence {
	t.Helper()
	return f.set(t, keystore.SetRequest{Key: []byte(key), Version: []byte("v"), Body: []byte(body), NewSequence: true})
}

// tombstone writes a deleted record unconditionally.
func (f *fixture) tombstone(t *testing.T, key string) keystore.Sequence {
	t.Helper()
	return f.set(t, keystore.SetRequest{Key: []byte(key), Version: []byte("v"), Flags: keystore.FlagDeleted, NewSequence: true})
}

func (f *fixture) del(t *testing.T, key string, replacing keystore.Sequence) bool {
	t.Helper()
	txn := f.begin()
	ok, err := f.store.Del(context.Background(), txn, []byte(key), replacing)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	return ok
}

// holds reports whether ks has a record for key.
func holds(t *testing.T, ks keystore.KeyStore, key string) bool {
	t.Helper()
	found, err := ks.Read(context.Background(), &keystore.Record{Key: []byte(key)}, keystore.MetaOnly)
	require.NoError(t, err)
	return found
}

func count(t *testing.T, ks keystore.KeyStore, includeDeleted bool) uint64 {
	t.Helper()
	n, err := ks.RecordCount(context.Background(), includeDeleted)
	require.NoError(t, err)
	return n
}

// requireInvariants checks exclusivity and flag placement for every key in
// either store.
func requireInvariants(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	opts := keystore.EnumeratorOptions{IncludeDeleted: true, Content: keystore.MetaOnly}

	for _, ks := range []keystore.KeyStore{f.live, f.dead} {
		e, err := keystore.NewRecordEnumerator(ctx, ks, false, 0, opts)
		require.NoError(t, err)
		recs, err := keystore.Collect(e)
		require.NoError(t, err)
		for _, rec := range recs {
			key := string(rec.Key)
			inLive, inDead := holds(t, f.live, key), holds(t, f.dead, key)
			require.False(t, inLive && inDead, "key %q is in both stores", key)
			if rec.Deleted() {
				require.True(t, inDead, "deleted key %q is not in the dead store", key)
			} else {
				require.True(t, inLive, "live key %q is not in the live store", key)
			}
		}
	}
}

// collect drains a composite enumerator.
func collect(t *testing.T, ks keystore.KeyStore, bySequence bool, since keystore.Sequence, opts keystore.EnumeratorOptions) []keystore.Record {
	t.Helper()
	e, err := keystore.NewRecordEnumerator(context.Background(), ks, bySequence, since, opts)
	require.NoError(t, err)
	recs, err := keystore.Collect(e)
	require.NoError(t, err)
	return recs
}

func keysOf(recs []keystore.Record) []string {
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = string(r.Key)
	}
	return keys
}
