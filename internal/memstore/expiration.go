package memstore

import (
	"context"
	"log/slog"

	"github.com/roach88/docstore/internal/keystore"
)

func (s *KeyStore) SetExpiration(ctx context.Context, t *keystore.Transaction, key []byte, exp keystore.Expiration) (bool, error) {
	if err := s.checkWrite(t, "set expiration"); err != nil {
		return false, err
	}
	if exp < 0 {
		return false, keystore.Errorf(keystore.ErrCodeInvalidArgument, "set expiration", s.name, "negative expiration %d", exp)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.lookupLocked(key)
	if prev == nil {
		return false, nil
	}
	next := *prev
	next.exp = exp
	s.replaceLocked(prev, &next)
	t.OnRollback(func() { s.restore(&next, prev) })
	s.writes++
	return true, nil
}

func (s *KeyStore) GetExpiration(ctx context.Context, key []byte) (keystore.Expiration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked("get expiration"); err != nil {
		return keystore.NoExpiration, err
	}
	if e := s.lookupLocked(key); e != nil {
		return e.exp, nil
	}
	return keystore.NoExpiration, nil
}

// NextExpiration scans every entry; memory stores keep no expiration index.
func (s *KeyStore) NextExpiration(ctx context.Context) (keystore.Expiration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked("next expiration"); err != nil {
		return keystore.NoExpiration, err
	}
	next := keystore.NoExpiration
	s.byKey.Each(func(_, v interface{}) {
		exp := v.(*entry).exp
		if exp > 0 && (next == keystore.NoExpiration || exp < next) {
			next = exp
		}
	})
	return next, nil
}

// ExpireRecords removes every record whose expiration is at or before the
// data file's clock, in key order.
func (s *KeyStore) ExpireRecords(ctx context.Context, t *keystore.Transaction, cb keystore.ExpirationCallback) (uint64, error) {
	if err := s.checkWrite(t, "expire records"); err != nil {
		return 0, err
	}
	now := keystore.ExpirationAt(s.df.clock.Now())

	s.mu.Lock()
	var expired []*entry
	s.byKey.Each(func(_, v interface{}) {
		e := v.(*entry)
		if e.exp > 0 && e.exp <= now {
			expired = append(expired, e)
		}
	})
	for _, e := range expired {
		prev := e
		s.replaceLocked(prev, nil)
		t.OnRollback(func() { s.restore(nil, prev) })
	}
	if len(expired) > 0 {
		s.writes++
	}
	s.mu.Unlock()

	for _, e := range expired {
		if cb != nil {
			cb(clone(e.key))
		}
	}
	if len(expired) > 0 {
		slog.Debug("records expired", "store", s.name, "count", len(expired), "now", int64(now))
	}
	return uint64(len(expired)), nil
}
