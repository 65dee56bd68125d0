package bothstore

import (
	"context"

	"github.com/roach88/docstore/internal/keystore"
)

// SetExpiration sets the expiration in whichever store holds key.
func (s *Store) SetExpiration(ctx context.Context, t *keystore.Transaction, key []byte, exp keystore.Expiration) (bool, error) {
	ok, err := s.live.SetExpiration(ctx, t, key, exp)
	if err != nil || ok {
		return ok, err
	}
	return s.dead.SetExpiration(ctx, t, key, exp)
}

// GetExpiration returns the larger of the two stores' answers. The store
// not holding key reports NoExpiration, which is never larger.
func (s *Store) GetExpiration(ctx context.Context, key []byte) (keystore.Expiration, error) {
	lx, err := s.live.GetExpiration(ctx, key)
	if err != nil {
		return keystore.NoExpiration, err
	}
	dx, err := s.dead.GetExpiration(ctx, key)
	if err != nil {
		return keystore.NoExpiration, err
	}
	return max(lx, dx), nil
}

// NextExpiration returns the earliest expiration of either store.
func (s *Store) NextExpiration(ctx context.Context) (keystore.Expiration, error) {
	lx, err := s.live.NextExpiration(ctx)
	if err != nil {
		return keystore.NoExpiration, err
	}
	dx, err := s.dead.NextExpiration(ctx)
	if err != nil {
		return keystore.NoExpiration, err
	}
	if lx > 0 && dx > 0 {
		return min(lx, dx), nil
	}
	return max(lx, dx), nil
}

// ExpireRecords expires both stores and returns the total.
func (s *Store) ExpireRecords(ctx context.Context, t *keystore.Transaction, cb keystore.ExpirationCallback) (uint64, error) {
	n, err := s.live.ExpireRecords(ctx, t, cb)
	if err != nil {
		return 0, err
	}
	m, err := s.dead.ExpireRecords(ctx, t, cb)
	if err != nil {
		return 0, err
	}
	return n + m, nil
}
