package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/docstore/internal/keystore"
)

// SetExpiration sets or clears the expiration of an existing record.
func (s *KeyStore) SetExpiration(ctx context.Context, t *keystore.Transaction, key []byte, exp keystore.Expiration) (bool, error) {
	tx, err := s.writeTx(t, "set expiration")
	if err != nil {
		return false, err
	}
	if exp < 0 {
		return false, keystore.Errorf(keystore.ErrCodeInvalidArgument, "set expiration", s.name, "negative expiration %d", exp)
	}
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET expiration = ? WHERE key = ?", quoteIdent(s.table)),
		int64(exp), key)
	if err != nil {
		return false, fmt.Errorf("set expiration %s: %w", s.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set expiration %s: rows affected: %w", s.name, err)
	}
	if n > 0 {
		s.noteWrite()
	}
	return n > 0, nil
}

// GetExpiration returns the record's expiration, NoExpiration when the record
// is absent or never expires.
func (s *KeyStore) GetExpiration(ctx context.Context, key []byte) (keystore.Expiration, error) {
	if err := s.checkOpen("get expiration"); err != nil {
		return keystore.NoExpiration, err
	}
	var exp int64
	err := s.df.querier().QueryRowContext(ctx,
		fmt.Sprintf("SELECT expiration FROM %s WHERE key = ?", quoteIdent(s.table)), key).Scan(&exp)
	if errors.Is(err, sql.ErrNoRows) {
		return keystore.NoExpiration, nil
	}
	if err != nil {
		return keystore.NoExpiration, fmt.Errorf("get expiration %s: %w", s.name, err)
	}
	return keystore.Expiration(exp), nil
}

// NextExpiration returns the earliest expiration in the store.
func (s *KeyStore) NextExpiration(ctx context.Context) (keystore.Expiration, error) {
	if err := s.checkOpen("next expiration"); err != nil {
		return keystore.NoExpiration, err
	}
	var exp sql.NullInt64
	err := s.df.querier().QueryRowContext(ctx,
		fmt.Sprintf("SELECT MIN(expiration) FROM %s WHERE expiration > 0", quoteIdent(s.table))).Scan(&exp)
	if err != nil {
		return keystore.NoExpiration, fmt.Errorf("next expiration %s: %w", s.name, err)
	}
	return keystore.Expiration(exp.Int64), nil
}

// ExpireRecords deletes every record whose expiration is at or before the
// data file's clock, calling cb with each removed key.
func (s *KeyStore) ExpireRecords(ctx context.Context, t *keystore.Transaction, cb keystore.ExpirationCallback) (uint64, error) {
	tx, err := s.writeTx(t, "expire records")
	if err != nil {
		return 0, err
	}
	now := keystore.ExpirationAt(s.df.clock.Now())

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE expiration > 0 AND expiration <= ? RETURNING key", quoteIdent(s.table)),
		int64(now))
	if err != nil {
		return 0, fmt.Errorf("expire records %s: %w", s.name, err)
	}
	var keys [][]byte
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return 0, fmt.Errorf("expire records %s: scan: %w", s.name, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("expire records %s: %w", s.name, err)
	}
	rows.Close()

	// Callbacks run after the cursor is closed so they may use the store.
	for _, key := range keys {
		if cb != nil {
			cb(key)
		}
	}
	if len(keys) > 0 {
		s.noteWrite()
		slog.Debug("records expired", "store", s.name, "count", len(keys), "now", int64(now))
	}
	return uint64(len(keys)), nil
}
