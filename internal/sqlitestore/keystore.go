package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/docstore/internal/keystore"
)

// KeyStore is one table of a DataFile.
type KeyStore struct {
	df    *DataFile
	name  string
	table string

	mu      sync.Mutex
	seqName string // kvmeta row whose last_seq this store advances
	closed  bool
	writes  int // mutations in the current transaction
}

var _ keystore.KeyStore = (*KeyStore)(nil)

func newKeyStore(df *DataFile, name string) *KeyStore {
	return &KeyStore{
		df:      df,
		name:    name,
		table:   "kv_" + name,
		seqName: name,
	}
}

// createTable creates the store's table, its expiration index and its
// kvmeta row. Idempotent.
func (s *KeyStore) createTable(ctx context.Context, q querier) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key        BLOB PRIMARY KEY,
			sequence   INTEGER NOT NULL UNIQUE,
			flags      INTEGER NOT NULL DEFAULT 0,
			version    BLOB,
			body       BLOB,
			expiration INTEGER NOT NULL DEFAULT 0
		)`, quoteIdent(s.table)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(expiration) WHERE expiration > 0`,
			quoteIdent(s.table+"_expiration"), quoteIdent(s.table)),
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create store %s: %w", s.name, err)
		}
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO kvmeta (name) VALUES (?)
		ON CONFLICT(name) DO NOTHING
	`, s.name); err != nil {
		return fmt.Errorf("create store %s: kvmeta: %w", s.name, err)
	}
	return nil
}

// Name returns the store name.
func (s *KeyStore) Name() string {
	return s.name
}

// Capabilities reports sequences, value indexes and queries.
func (s *KeyStore) Capabilities() keystore.Capabilities {
	return keystore.Capabilities{Sequences: true, Indexes: true, Queries: true}
}

// RecordCount counts records, excluding tombstones unless includeDeleted.
func (s *KeyStore) RecordCount(ctx context.Context, includeDeleted bool) (uint64, error) {
	if err := s.checkOpen("record count"); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(s.table))
	if !includeDeleted {
		query += fmt.Sprintf(" WHERE (flags & %d) = 0", keystore.FlagDeleted)
	}
	var count uint64
	if err := s.df.querier().QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("record count %s: %w", s.name, err)
	}
	return count, nil
}

// LastSequence returns the last sequence of the store's sequence row.
func (s *KeyStore) LastSequence(ctx context.Context) (keystore.Sequence, error) {
	if err := s.checkOpen("last sequence"); err != nil {
		return 0, err
	}
	var seq int64
	err := s.df.querier().QueryRowContext(ctx,
		`SELECT last_seq FROM kvmeta WHERE name = ?`, s.sequenceRow()).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last sequence %s: %w", s.name, err)
	}
	return keystore.Sequence(seq), nil
}

// PurgeCount returns how many records Del has removed from this store.
func (s *KeyStore) PurgeCount(ctx context.Context) (uint64, error) {
	if err := s.checkOpen("purge count"); err != nil {
		return 0, err
	}
	var count uint64
	err := s.df.querier().QueryRowContext(ctx,
		`SELECT purge_cnt FROM kvmeta WHERE name = ?`, s.name).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("purge count %s: %w", s.name, err)
	}
	return count, nil
}

// Read fills rec from the row whose key is rec.Key.
func (s *KeyStore) Read(ctx context.Context, rec *keystore.Record, content keystore.ContentOption) (bool, error) {
	if err := s.checkOpen("read"); err != nil {
		return false, err
	}
	row := s.df.querier().QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE key = ?", recordColumns(content), quoteIdent(s.table)),
		rec.Key)
	found, err := scanRecordRow(row, rec, content)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", s.name, err)
	}
	return found, nil
}

// Get returns the record with the given sequence.
func (s *KeyStore) Get(ctx context.Context, seq keystore.Sequence, content keystore.ContentOption) (keystore.Record, error) {
	if err := s.checkOpen("get"); err != nil {
		return keystore.Record{}, err
	}
	var rec keystore.Record
	row := s.df.querier().QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE sequence = ?", recordColumns(content), quoteIdent(s.table)),
		int64(seq))
	if _, err := scanRecordRow(row, &rec, content); err != nil {
		return keystore.Record{}, fmt.Errorf("get %s: %w", s.name, err)
	}
	return rec, nil
}

// Set inserts or replaces a record.
func (s *KeyStore) Set(ctx context.Context, t *keystore.Transaction, req keystore.SetRequest) (keystore.Sequence, error) {
	tx, err := s.writeTx(t, "set")
	if err != nil {
		return 0, err
	}
	if len(req.Key) == 0 {
		return 0, keystore.Errorf(keystore.ErrCodeInvalidArgument, "set", s.name, "empty key")
	}

	var current int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT sequence FROM %s WHERE key = ?", quoteIdent(s.table)), req.Key).Scan(&current)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("set %s: read current: %w", s.name, err)
	}

	if req.Replacing != nil {
		if *req.Replacing == 0 && exists {
			return 0, nil
		}
		if *req.Replacing > 0 && (!exists || keystore.Sequence(current) != *req.Replacing) {
			return 0, nil
		}
	}

	var seq keystore.Sequence
	if req.NewSequence {
		seq, err = s.nextSequence(ctx, tx)
		if err != nil {
			return 0, err
		}
	} else {
		if !exists {
			return 0, nil
		}
		seq = keystore.Sequence(current)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, sequence, flags, version, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			sequence = excluded.sequence,
			flags    = excluded.flags,
			version  = excluded.version,
			body     = excluded.body
	`, quoteIdent(s.table)),
		req.Key,
		int64(seq),
		int64(req.Flags),
		req.Version,
		req.Body,
	)
	if err != nil {
		return 0, fmt.Errorf("set %s: write: %w", s.name, err)
	}
	s.noteWrite()
	return seq, nil
}

// Del removes a record, checking its sequence when replacing is non-zero.
func (s *KeyStore) Del(ctx context.Context, t *keystore.Transaction, key []byte, replacing keystore.Sequence) (bool, error) {
	tx, err := s.writeTx(t, "del")
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", quoteIdent(s.table))
	args := []any{key}
	if replacing > 0 {
		query += " AND sequence = ?"
		args = append(args, int64(replacing))
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("del %s: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("del %s: rows affected: %w", s.name, err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE kvmeta SET purge_cnt = purge_cnt + 1 WHERE name = ?`, s.name); err != nil {
		return false, fmt.Errorf("del %s: purge count: %w", s.name, err)
	}
	s.noteWrite()
	return true, nil
}

// SetDocumentFlag ORs flags into the record if its sequence is seq.
func (s *KeyStore) SetDocumentFlag(ctx context.Context, t *keystore.Transaction, key []byte, seq keystore.Sequence, flags keystore.DocumentFlags) (bool, error) {
	tx, err := s.writeTx(t, "set document flag")
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET flags = flags | ? WHERE key = ? AND sequence = ?", quoteIdent(s.table)),
		int64(flags), key, int64(seq))
	if err != nil {
		return false, fmt.Errorf("set document flag %s: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set document flag %s: rows affected: %w", s.name, err)
	}
	if n > 0 {
		s.noteWrite()
	}
	return n > 0, nil
}

// TransactionWillEnd resets the store's per-transaction bookkeeping.
func (s *KeyStore) TransactionWillEnd(commit bool) {
	s.mu.Lock()
	writes := s.writes
	s.writes = 0
	s.mu.Unlock()
	if writes > 0 {
		slog.Debug("store transaction ending", "store", s.name, "commit", commit, "writes", writes)
	}
}

// WithDocBodies reads each key's body and passes it through cb.
func (s *KeyStore) WithDocBodies(ctx context.Context, keys [][]byte, cb keystore.WithDocBodyCallback) ([][]byte, error) {
	if err := s.checkOpen("with doc bodies"); err != nil {
		return nil, err
	}
	q := s.df.querier()
	query := fmt.Sprintf("SELECT body FROM %s WHERE key = ?", quoteIdent(s.table))
	result := make([][]byte, len(keys))
	for i, key := range keys {
		var body []byte
		err := q.QueryRowContext(ctx, query, key).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("with doc bodies %s: %w", s.name, err)
		}
		if body == nil {
			body = []byte{}
		}
		result[i] = cb(key, body)
	}
	return result, nil
}

// ShareSequencesWith makes s advance other's sequence row. other must be a
// store of the same DataFile.
func (s *KeyStore) ShareSequencesWith(other keystore.KeyStore) {
	o, ok := other.(*KeyStore)
	if !ok || o.df != s.df {
		panic(fmt.Sprintf("sqlitestore: store %s cannot share sequences with %T %q", s.name, other, other.Name()))
	}
	row := o.sequenceRow()
	s.mu.Lock()
	s.seqName = row
	s.mu.Unlock()
	slog.Debug("sharing sequences", "store", s.name, "with", row)
}

// Reopen recreates the table if needed and accepts calls again.
func (s *KeyStore) Reopen(ctx context.Context) error {
	if err := s.createTable(ctx, s.df.querier()); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
	return nil
}

// Close rejects further calls until Reopen. The DataFile owns the connection.
func (s *KeyStore) Close() error {
	s.markClosed()
	return nil
}

func (s *KeyStore) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *KeyStore) checkOpen(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keystore.NewError(keystore.ErrCodeClosed, op, s.name, nil)
	}
	return nil
}

// writeTx validates t and returns its *sql.Tx.
func (s *KeyStore) writeTx(t *keystore.Transaction, op string) (*sql.Tx, error) {
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if err := t.Check(op, s.name); err != nil {
		return nil, err
	}
	tx := t.SQL()
	if tx == nil {
		return nil, keystore.Errorf(keystore.ErrCodeInvalidArgument, op, s.name, "transaction %s is not a SQLite transaction", t.ID())
	}
	return tx, nil
}

func (s *KeyStore) noteWrite() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

func (s *KeyStore) sequenceRow() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seqName
}

// nextSequence advances the store's sequence row inside tx.
func (s *KeyStore) nextSequence(ctx context.Context, tx *sql.Tx) (keystore.Sequence, error) {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`UPDATE kvmeta SET last_seq = last_seq + 1 WHERE name = ? RETURNING last_seq`,
		s.sequenceRow()).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", s.name, err)
	}
	return keystore.Sequence(seq), nil
}

// recordColumns returns the select list for a record read.
func recordColumns(content keystore.ContentOption) string {
	body := "NULL"
	if content.LoadsBody() {
		body = "body"
	}
	return "key, sequence, flags, version, " + body + ", length(body), expiration"
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row selected with recordColumns into rec.
func scanRecord(row rowScanner, rec *keystore.Record, content keystore.ContentOption) error {
	var (
		key, version, body []byte
		seq, flags, exp    int64
		size               sql.NullInt64
	)
	if err := row.Scan(&key, &seq, &flags, &version, &body, &size, &exp); err != nil {
		return err
	}
	rec.Key = key
	rec.Sequence = keystore.Sequence(seq)
	rec.Flags = keystore.DocumentFlags(flags)
	rec.Version = version
	rec.Body = nil
	if content.LoadsBody() {
		rec.Body = body
		if rec.Body == nil {
			rec.Body = []byte{}
		}
	}
	rec.BodySize = size.Int64
	rec.Expiration = keystore.Expiration(exp)
	rec.Content = content
	return nil
}

// scanRecordRow scans a single-row lookup, reporting false on no rows.
func scanRecordRow(row *sql.Row, rec *keystore.Record, content keystore.ContentOption) (bool, error) {
	err := scanRecord(row, rec, content)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
