package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/querysql"
)

// SupportsIndexes reports true for value indexes only.
func (s *KeyStore) SupportsIndexes(typ keystore.IndexType) bool {
	return typ == keystore.ValueIndex
}

// CreateIndex builds a value index over JSON properties of the body.
// Returns false when an identical index already exists; an index with the
// same name but a different definition is replaced.
func (s *KeyStore) CreateIndex(ctx context.Context, t *keystore.Transaction, spec keystore.IndexSpec) (bool, error) {
	tx, err := s.writeTx(t, "create index")
	if err != nil {
		return false, err
	}
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return false, err
	}
	if !s.SupportsIndexes(spec.Type) {
		return false, keystore.Errorf(keystore.ErrCodeUnsupported, "create index", s.name, "%s indexes are not supported", spec.Type)
	}

	existing, found, err := s.lookupIndex(ctx, tx, spec.Name)
	if err != nil {
		return false, err
	}
	if found {
		if existing.Equal(spec) {
			return false, nil
		}
		if err := s.dropIndex(ctx, tx, spec.Name); err != nil {
			return false, err
		}
	}

	exprs := make([]string, len(spec.Expressions))
	for i, path := range spec.Expressions {
		exprs[i] = querysql.JSONExtract(path)
	}
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s(%s)",
		quoteIdent(s.indexName(spec.Name)), quoteIdent(s.table), strings.Join(exprs, ", "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return false, fmt.Errorf("create index %s on %s: %w", spec.Name, s.name, err)
	}

	encoded, err := json.Marshal(spec.Expressions)
	if err != nil {
		return false, fmt.Errorf("create index %s: encode expressions: %w", spec.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO indexes (store, name, type, expressions)
		VALUES (?, ?, ?, ?)
	`, s.name, spec.Name, spec.Type.String(), string(encoded)); err != nil {
		return false, fmt.Errorf("create index %s: record: %w", spec.Name, err)
	}
	s.noteWrite()
	slog.Debug("index created", "store", s.name, "index", spec.Name, "expressions", spec.Expressions)
	return true, nil
}

// DeleteIndex drops the named index. Dropping a missing index is a no-op.
func (s *KeyStore) DeleteIndex(ctx context.Context, t *keystore.Transaction, name string) error {
	tx, err := s.writeTx(t, "delete index")
	if err != nil {
		return err
	}
	if !keystore.ValidIdentifier(name) {
		return keystore.Errorf(keystore.ErrCodeInvalidArgument, "delete index", s.name, "invalid index name %q", name)
	}
	return s.dropIndex(ctx, tx, name)
}

// GetIndexes lists the store's indexes ordered by name.
func (s *KeyStore) GetIndexes(ctx context.Context) ([]keystore.IndexSpec, error) {
	if err := s.checkOpen("get indexes"); err != nil {
		return nil, err
	}
	rows, err := s.df.querier().QueryContext(ctx, `
		SELECT name, type, expressions FROM indexes
		WHERE store = ?
		ORDER BY name
	`, s.name)
	if err != nil {
		return nil, fmt.Errorf("get indexes %s: %w", s.name, err)
	}
	defer rows.Close()

	specs := []keystore.IndexSpec{}
	for rows.Next() {
		spec, err := scanIndex(rows)
		if err != nil {
			return nil, fmt.Errorf("get indexes %s: %w", s.name, err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get indexes %s: %w", s.name, err)
	}
	return specs, nil
}

func (s *KeyStore) indexName(name string) string {
	return s.table + "__" + name
}

func (s *KeyStore) lookupIndex(ctx context.Context, q querier, name string) (keystore.IndexSpec, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT name, type, expressions FROM indexes WHERE store = ? AND name = ?`, s.name, name)
	spec, err := scanIndex(row)
	if errors.Is(err, sql.ErrNoRows) {
		return keystore.IndexSpec{}, false, nil
	}
	if err != nil {
		return keystore.IndexSpec{}, false, fmt.Errorf("lookup index %s: %w", name, err)
	}
	return spec, true, nil
}

func (s *KeyStore) dropIndex(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DROP INDEX IF EXISTS %s", quoteIdent(s.indexName(name)))); err != nil {
		return fmt.Errorf("drop index %s on %s: %w", name, s.name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE store = ? AND name = ?`, s.name, name)
	if err != nil {
		return fmt.Errorf("drop index %s on %s: %w", name, s.name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.noteWrite()
		slog.Debug("index dropped", "store", s.name, "index", name)
	}
	return nil
}

func scanIndex(row rowScanner) (keystore.IndexSpec, error) {
	var name, typ, exprs string
	if err := row.Scan(&name, &typ, &exprs); err != nil {
		return keystore.IndexSpec{}, err
	}
	indexType, err := keystore.ParseIndexType(typ)
	if err != nil {
		return keystore.IndexSpec{}, err
	}
	spec := keystore.IndexSpec{Name: name, Type: indexType}
	if err := json.Unmarshal([]byte(exprs), &spec.Expressions); err != nil {
		return keystore.IndexSpec{}, fmt.Errorf("decode index %s expressions: %w", name, err)
	}
	return spec, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
