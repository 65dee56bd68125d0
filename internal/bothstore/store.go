package bothstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/queryir"
)

// Store is a KeyStore backed by a live store and a dead store.
//
// Store adds no locking; it follows the concurrency rules of its stores.
type Store struct {
	live keystore.KeyStore
	dead keystore.KeyStore
}

var _ keystore.KeyStore = (*Store)(nil)

// New takes ownership of live and dead. The stores must already share one
// sequence counter.
func New(live, dead keystore.KeyStore) *Store {
	if live == nil || dead == nil {
		panic("bothstore: New requires a live and a dead store")
	}
	if live == dead {
		panic(fmt.Sprintf("bothstore: live and dead store are both %q", live.Name()))
	}
	return &Store{live: live, dead: dead}
}

// Live returns the store of non-deleted records.
func (s *Store) Live() keystore.KeyStore {
	return s.live
}

// Dead returns the store of tombstones.
func (s *Store) Dead() keystore.KeyStore {
	return s.dead
}

// Name returns the live store's name.
func (s *Store) Name() string {
	return s.live.Name()
}

// Capabilities returns the live store's capabilities.
func (s *Store) Capabilities() keystore.Capabilities {
	return s.live.Capabilities()
}

// RecordCount counts live records, plus every dead record when
// includeDeleted is true.
func (s *Store) RecordCount(ctx context.Context, includeDeleted bool) (uint64, error) {
	count, err := s.live.RecordCount(ctx, false)
	if err != nil {
		return 0, err
	}
	if includeDeleted {
		dead, err := s.dead.RecordCount(ctx, true)
		if err != nil {
			return 0, err
		}
		count += dead
	}
	return count, nil
}

// LastSequence delegates to the live store, whose counter is the shared one.
func (s *Store) LastSequence(ctx context.Context) (keystore.Sequence, error) {
	return s.live.LastSequence(ctx)
}

// PurgeCount delegates to the live store.
func (s *Store) PurgeCount(ctx context.Context) (uint64, error) {
	return s.live.PurgeCount(ctx)
}

// Read looks in the live store, then the dead store.
func (s *Store) Read(ctx context.Context, rec *keystore.Record, content keystore.ContentOption) (bool, error) {
	found, err := s.live.Read(ctx, rec, content)
	if err != nil || found {
		return found, err
	}
	return s.dead.Read(ctx, rec, content)
}

// Get looks up seq in the live store, then the dead store.
func (s *Store) Get(ctx context.Context, seq keystore.Sequence, content keystore.ContentOption) (keystore.Record, error) {
	rec, err := s.live.Get(ctx, seq, content)
	if err != nil || rec.Exists() {
		return rec, err
	}
	return s.dead.Get(ctx, seq, content)
}

// Set writes the record to the store matching its deleted flag and removes
// the key from the other store. Returns 0 without changing either store
// when the Replacing check fails.
func (s *Store) Set(ctx context.Context, t *keystore.Transaction, req keystore.SetRequest) (keystore.Sequence, error) {
	deleting := req.Flags.Has(keystore.FlagDeleted)
	target, other := s.live, s.dead
	if deleting {
		target, other = s.dead, s.live
	}

	if req.Replacing != nil && *req.Replacing == 0 {
		// Insert-only: the key must not exist in either store.
		exists, err := other.Read(ctx, &keystore.Record{Key: req.Key}, keystore.MetaOnly)
		if err != nil {
			return 0, fmt.Errorf("set: check %s: %w", other.Name(), err)
		}
		if exists {
			return 0, nil
		}
	}

	seq, err := target.Set(ctx, t, req)
	if err != nil {
		return 0, err
	}

	switch {
	case seq > 0 && req.Replacing == nil:
		// An unconditional write may leave an older revision in the other store.
		removed, err := other.Del(ctx, t, req.Key, 0)
		if err != nil {
			return 0, fmt.Errorf("set: remove from %s: %w", other.Name(), err)
		}
		if removed {
			s.logMove(req.Key, other, target, seq)
		}

	case seq == 0 && req.Replacing != nil && *req.Replacing > 0:
		// The expected revision may be in the other store.
		if !req.NewSequence {
			cur := keystore.Record{Key: req.Key}
			found, err := other.Read(ctx, &cur, keystore.MetaOnly)
			if err != nil {
				return 0, fmt.Errorf("set: check %s: %w", other.Name(), err)
			}
			if !found || cur.Sequence != *req.Replacing {
				return 0, nil
			}
			panic(fmt.Sprintf("bothstore: set %q: a record cannot move between stores without a new sequence", req.Key))
		}
		removed, err := other.Del(ctx, t, req.Key, *req.Replacing)
		if err != nil {
			return 0, fmt.Errorf("set: remove from %s: %w", other.Name(), err)
		}
		if removed {
			moved := req
			moved.Replacing = nil
			seq, err = target.Set(ctx, t, moved)
			if err != nil {
				return 0, err
			}
			s.logMove(req.Key, other, target, seq)
		}
	}
	return seq, nil
}

func (s *Store) logMove(key []byte, from, to keystore.KeyStore, seq keystore.Sequence) {
	slog.Debug("record moved", "key", string(key), "from", from.Name(), "to", to.Name(), "seq", uint64(seq))
}

// Del removes key from both stores. It succeeds if either store held it.
func (s *Store) Del(ctx context.Context, t *keystore.Transaction, key []byte, replacing keystore.Sequence) (bool, error) {
	liveOK, liveErr := s.live.Del(ctx, t, key, replacing)
	deadOK, deadErr := s.dead.Del(ctx, t, key, replacing)
	if err := errors.Join(liveErr, deadErr); err != nil {
		return false, err
	}
	return liveOK || deadOK, nil
}

// SetDocumentFlag sets flags on the record in whichever store holds it.
// flags must not include keystore.FlagDeleted: deletion goes through Set or
// Del so the record changes store.
func (s *Store) SetDocumentFlag(ctx context.Context, t *keystore.Transaction, key []byte, seq keystore.Sequence, flags keystore.DocumentFlags) (bool, error) {
	if flags.Has(keystore.FlagDeleted) {
		panic(fmt.Sprintf("bothstore: SetDocumentFlag %q: the deleted flag can only be set by Set", key))
	}
	ok, err := s.live.SetDocumentFlag(ctx, t, key, seq, flags)
	if err != nil || ok {
		return ok, err
	}
	return s.dead.SetDocumentFlag(ctx, t, key, seq, flags)
}

// TransactionWillEnd notifies both stores.
func (s *Store) TransactionWillEnd(commit bool) {
	s.live.TransactionWillEnd(commit)
	s.dead.TransactionWillEnd(commit)
}

// CompileQuery compiles against live documents only.
func (s *Store) CompileQuery(ctx context.Context, q queryir.Query) (keystore.Query, error) {
	return s.live.CompileQuery(ctx, q)
}

// WithDocBodies resolves keys in the live store, then retries the misses in
// the dead store. Results stay in the order of keys.
func (s *Store) WithDocBodies(ctx context.Context, keys [][]byte, cb keystore.WithDocBodyCallback) ([][]byte, error) {
	result, err := s.live.WithDocBodies(ctx, keys, cb)
	if err != nil {
		return nil, err
	}

	var (
		recheck   [][]byte
		positions []int
	)
	for i := range keys {
		if result[i] == nil {
			recheck = append(recheck, keys[i])
			positions = append(positions, i)
		}
	}
	if len(recheck) == 0 {
		return result, nil
	}

	dead, err := s.dead.WithDocBodies(ctx, recheck, cb)
	if err != nil {
		return nil, err
	}
	for i, body := range dead {
		if body != nil {
			result[positions[i]] = body
		}
	}
	return result, nil
}

func (s *Store) SupportsIndexes(typ keystore.IndexType) bool {
	return s.live.SupportsIndexes(typ)
}

func (s *Store) CreateIndex(ctx context.Context, t *keystore.Transaction, spec keystore.IndexSpec) (bool, error) {
	return s.live.CreateIndex(ctx, t, spec)
}

func (s *Store) DeleteIndex(ctx context.Context, t *keystore.Transaction, name string) error {
	return s.live.DeleteIndex(ctx, t, name)
}

func (s *Store) GetIndexes(ctx context.Context) ([]keystore.IndexSpec, error) {
	return s.live.GetIndexes(ctx)
}

// ShareSequencesWith always panics: the stores' shared counter is fixed
// before New and cannot be rebound through the composite.
func (s *Store) ShareSequencesWith(other keystore.KeyStore) {
	panic(fmt.Sprintf("bothstore: ShareSequencesWith(%q) on composite store %q", other.Name(), s.Name()))
}

// NewEnumeratorImpl merges both stores when deleted records are requested.
// Otherwise the dead store has nothing to contribute.
func (s *Store) NewEnumeratorImpl(ctx context.Context, bySequence bool, since keystore.Sequence, opts keystore.EnumeratorOptions) (keystore.EnumeratorImpl, error) {
	if !opts.IncludeDeleted {
		return s.live.NewEnumeratorImpl(ctx, bySequence, since, opts)
	}
	return newMergeEnumerator(ctx, s.live, s.dead, bySequence, since, opts)
}

// Reopen reopens both stores.
func (s *Store) Reopen(ctx context.Context) error {
	return errors.Join(s.live.Reopen(ctx), s.dead.Reopen(ctx))
}

// Close closes both stores.
func (s *Store) Close() error {
	return errors.Join(s.live.Close(), s.dead.Close())
}
