package keystore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/memstore"
)

func TestDocumentFlags(t *testing.T) {
	f := keystore.FlagDeleted | keystore.FlagConflicted
	assert.True(t, f.Has(keystore.FlagDeleted))
	assert.True(t, f.Has(keystore.FlagDeleted|keystore.FlagConflicted))
	assert.False(t, f.Has(keystore.FlagSynced))

	assert.Equal(t, "none", keystore.DocumentFlags(0).String())
	assert.Equal(t, "deleted|conflicted", f.String())
	assert.Equal(t, "synced|0x80", (keystore.FlagSynced | 0x80).String())
}

func TestRecord(t *testing.T) {
	var rec keystore.Record
	assert.False(t, rec.Exists())
	rec.Sequence = 4
	rec.Flags = keystore.FlagDeleted
	assert.True(t, rec.Exists())
	assert.True(t, rec.Deleted())

	assert.False(t, keystore.MetaOnly.LoadsBody())
	assert.True(t, keystore.CurrentRevOnly.LoadsBody())
	assert.True(t, keystore.EntireBody.LoadsBody())
}

func TestExpiration(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := keystore.ExpirationAt(at)
	assert.Equal(t, keystore.Expiration(1704067200000), exp)
	assert.True(t, exp.Time().Equal(at))
	assert.True(t, keystore.NoExpiration.Time().IsZero())
}

func TestErrorsMatchByCode(t *testing.T) {
	err := keystore.Errorf(keystore.ErrCodeUnsupported, "create index", "default", "%s indexes are not supported", "fulltext")
	wrapped := fmt.Errorf("index create: %w", err)

	assert.ErrorIs(t, wrapped, keystore.ErrUnsupported)
	assert.NotErrorIs(t, wrapped, keystore.ErrNotFound)
	assert.Equal(t, "create index: UNSUPPORTED (store=default): fulltext indexes are not supported", err.Error())

	cause := errors.New("disk on fire")
	closed := keystore.NewError(keystore.ErrCodeClosed, "read", "", cause)
	assert.ErrorIs(t, closed, cause)
	assert.ErrorIs(t, closed, keystore.ErrClosed)
	assert.Equal(t, "read: CLOSED: disk on fire", closed.Error())
}

func TestParseIndexType(t *testing.T) {
	tests := []struct {
		in   string
		want keystore.IndexType
	}{
		{"", keystore.ValueIndex},
		{"value", keystore.ValueIndex},
		{"FullText", keystore.FullTextIndex},
		{"full_text", keystore.FullTextIndex},
	}
	for _, tt := range tests {
		got, err := keystore.ParseIndexType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := keystore.ParseIndexType("geo")
	assert.ErrorIs(t, err, keystore.ErrInvalidArgument)
}

func TestIndexSpec(t *testing.T) {
	spec := keystore.IndexSpec{Name: "by_city", Expressions: []string{" address.city ", "cafe\u0301"}}
	n := spec.Normalize()
	assert.Equal(t, []string{"address.city", "caf\u00e9"}, n.Expressions)
	assert.True(t, n.Equal(keystore.IndexSpec{Name: "by_city", Expressions: []string{"address.city", "caf\u00e9"}}))
	assert.False(t, n.Equal(keystore.IndexSpec{Name: "by_city", Type: keystore.FullTextIndex, Expressions: n.Expressions}))

	require.NoError(t, keystore.IndexSpec{Name: "by_city", Expressions: []string{"address.city"}}.Validate())

	bad := []keystore.IndexSpec{
		{Name: "1st", Expressions: []string{"a"}},
		{Name: "empty"},
		{Name: "bad_path", Expressions: []string{"a..b"}},
	}
	for _, spec := range bad {
		assert.ErrorIs(t, spec.Validate(), keystore.ErrInvalidArgument, spec.Name)
	}
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, keystore.ValidIdentifier("del_default"))
	assert.True(t, keystore.ValidIdentifier("_x9"))
	assert.False(t, keystore.ValidIdentifier(""))
	assert.False(t, keystore.ValidIdentifier("9x"))
	assert.False(t, keystore.ValidIdentifier("a-b"))
}

type recordingObserver struct {
	calls []bool
}

func (o *recordingObserver) TransactionWillEnd(commit bool) {
	o.calls = append(o.calls, commit)
}

func TestTransaction(t *testing.T) {
	obs := &recordingObserver{}
	txn := keystore.NewTransaction(nil, obs)
	assert.NotEmpty(t, txn.ID())
	assert.True(t, txn.Active())
	require.NoError(t, txn.Check("set", "default"))

	var undone []int
	txn.OnRollback(func() { undone = append(undone, 1) })
	txn.OnRollback(func() { undone = append(undone, 2) })

	require.NoError(t, txn.Rollback())
	assert.Equal(t, []int{2, 1}, undone)
	assert.Equal(t, []bool{false}, obs.calls)
	assert.False(t, txn.Active())
	assert.False(t, txn.Committed())
	assert.ErrorIs(t, txn.Check("set", "default"), keystore.ErrTransactionEnded)

	// Ending twice is a no-op.
	require.NoError(t, txn.Commit())
	assert.Equal(t, []bool{false}, obs.calls)

	committed := keystore.NewTransaction(nil)
	committed.Observe(obs)
	committed.OnRollback(func() { t.Fatal("undo ran on commit") })
	require.NoError(t, committed.Commit())
	assert.True(t, committed.Committed())
	assert.Equal(t, []bool{false, true}, obs.calls)

	var nilTxn *keystore.Transaction
	assert.ErrorIs(t, nilTxn.Check("set", "default"), keystore.ErrInvalidArgument)
}

func seedStore(t *testing.T, n int) keystore.KeyStore {
	t.Helper()
	ctx := context.Background()
	df := memstore.NewDataFile(memstore.Options{})
	ks, err := df.KeyStore("default")
	require.NoError(t, err)

	txn, err := df.Begin(ctx)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		req := keystore.SetRequest{
			Key:         []byte(fmt.Sprintf("doc%02d", i)),
			Body:        []byte(`{}`),
			NewSequence: true,
		}
		if i%3 == 0 {
			req.Flags = keystore.FlagConflicted
		}
		_, err := ks.Set(ctx, txn, req)
		require.NoError(t, err)
	}
	require.NoError(t, txn.Commit())
	return ks
}

func keysOf(records []keystore.Record) []string {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = string(r.Key)
	}
	return keys
}

func TestRecordEnumerator_SkipLimit(t *testing.T) {
	ctx := context.Background()
	ks := seedStore(t, 6)

	tests := []struct {
		name  string
		since keystore.Sequence
		opts  keystore.EnumeratorOptions
		want  []string
	}{
		{"all", 0, keystore.DefaultEnumeratorOptions(),
			[]string{"doc01", "doc02", "doc03", "doc04", "doc05", "doc06"}},
		{"since", 4, keystore.DefaultEnumeratorOptions(),
			[]string{"doc05", "doc06"}},
		{"skip and limit", 0, keystore.EnumeratorOptions{Skip: 1, Limit: 2},
			[]string{"doc02", "doc03"}},
		{"descending", 0, keystore.EnumeratorOptions{Descending: true, Limit: 2},
			[]string{"doc06", "doc05"}},
		{"skip past end", 0, keystore.EnumeratorOptions{Skip: 10},
			nil},
		{"only conflicts", 0, keystore.EnumeratorOptions{OnlyConflicts: true},
			[]string{"doc03", "doc06"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := keystore.NewRecordEnumerator(ctx, ks, true, tt.since, tt.opts)
			require.NoError(t, err)
			records, err := keystore.Collect(e)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keysOf(records))
		})
	}
}

func TestRecordEnumerator_CloseStops(t *testing.T) {
	ks := seedStore(t, 3)
	e, err := keystore.NewRecordEnumerator(context.Background(), ks, false, 0, keystore.DefaultEnumeratorOptions())
	require.NoError(t, err)

	require.True(t, e.Next())
	assert.Equal(t, "doc01", string(e.Record().Key))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.False(t, e.Next())
	assert.NoError(t, e.Err())
}
