package sqlitestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/keystore"
)

func TestCreateIndex(t *testing.T) {
	df, ks := createTestStore(t)
	ctx := context.Background()
	spec := keystore.IndexSpec{Name: "by_city", Expressions: []string{"address.city", "name"}}

	inTxn(t, df, func(txn *keystore.Transaction) {
		created, err := ks.CreateIndex(ctx, txn, spec)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = ks.CreateIndex(ctx, txn, spec)
		require.NoError(t, err)
		assert.False(t, created, "identical index already exists")
	})

	specs, err := ks.GetIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.True(t, specs[0].Equal(spec))

	var sqlName string
	err = df.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND tbl_name='kv_default' AND name=?",
		"kv_default__by_city").Scan(&sqlName)
	assert.NoError(t, err)
}

func TestCreateIndex_ReplacesChangedDefinition(t *testing.T) {
	df, ks := createTestStore(t)
	ctx := context.Background()

	inTxn(t, df, func(txn *keystore.Transaction) {
		_, err := ks.CreateIndex(ctx, txn, keystore.IndexSpec{Name: "idx", Expressions: []string{"a"}})
		require.NoError(t, err)
		created, err := ks.CreateIndex(ctx, txn, keystore.IndexSpec{Name: "idx", Expressions: []string{"b"}})
		require.NoError(t, err)
		assert.True(t, created)
	})

	specs, err := ks.GetIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"b"}, specs[0].Expressions)
}

func TestCreateIndex_Rejects(t *testing.T) {
	df, ks := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec keystore.IndexSpec
		want error
	}{
		{"bad name", keystore.IndexSpec{Name: "no spaces", Expressions: []string{"a"}}, keystore.ErrInvalidArgument},
		{"bad path", keystore.IndexSpec{Name: "idx", Expressions: []string{"a..b"}}, keystore.ErrInvalidArgument},
		{"no expressions", keystore.IndexSpec{Name: "idx"}, keystore.ErrInvalidArgument},
		{"full text", keystore.IndexSpec{Name: "idx", Type: keystore.FullTextIndex, Expressions: []string{"a"}}, keystore.ErrUnsupported},
	}
	inTxn(t, df, func(txn *keystore.Transaction) {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				created, err := ks.CreateIndex(ctx, txn, tt.spec)
				assert.ErrorIs(t, err, tt.want)
				assert.False(t, created)
			})
		}
	})
	assert.False(t, ks.SupportsIndexes(keystore.FullTextIndex))
	assert.True(t, ks.SupportsIndexes(keystore.ValueIndex))
}

func TestDeleteIndex(t *testing.T) {
	df, ks := createTestStore(t)
	ctx := context.Background()

	inTxn(t, df, func(txn *keystore.Transaction) {
		_, err := ks.CreateIndex(ctx, txn, keystore.IndexSpec{Name: "idx", Expressions: []string{"a"}})
		require.NoError(t, err)
		require.NoError(t, ks.DeleteIndex(ctx, txn, "idx"))
		require.NoError(t, ks.DeleteIndex(ctx, txn, "idx"), "dropping a missing index is a no-op")
	})

	specs, err := ks.GetIndexes(ctx)
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestQuery_UsesIndex(t *testing.T) {
	df, ks := createTestStore(t)
	ctx := context.Background()
	inTxn(t, df, func(txn *keystore.Transaction) {
		_, err := ks.CreateIndex(ctx, txn, keystore.IndexSpec{Name: "by_city", Expressions: []string{"city"}})
		require.NoError(t, err)
	})

	rows, err := df.DB().Query(`EXPLAIN QUERY PLAN SELECT key FROM "kv_default" WHERE json_extract(CAST(body AS TEXT), '$.city') = 'Oslo'`)
	require.NoError(t, err)
	defer rows.Close()
	var plan []string
	for rows.Next() {
		var id, parent, notused int
		var detail string
		require.NoError(t, rows.Scan(&id, &parent, &notused, &detail))
		plan = append(plan, detail)
	}
	require.NoError(t, rows.Err())
	assert.Contains(t, plan[0], "kv_default__by_city")
}
