package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/queryir"
)

// entry is one stored record. Entries are never modified after insertion.
type entry struct {
	key     []byte
	version []byte
	body    []byte
	seq     keystore.Sequence
	flags   keystore.DocumentFlags
	exp     keystore.Expiration
}

func (e *entry) record(content keystore.ContentOption) keystore.Record {
	rec := keystore.Record{
		Key:        clone(e.key),
		Version:    clone(e.version),
		Sequence:   e.seq,
		Flags:      e.flags,
		Expiration: e.exp,
		BodySize:   int64(len(e.body)),
		Content:    content,
	}
	if content.LoadsBody() {
		rec.Body = clone(e.body)
		if rec.Body == nil {
			rec.Body = []byte{}
		}
	}
	return rec
}

// KeyStore is an in-memory physical store.
//
// Thread-safety: safe for concurrent readers; writers are serialized by the
// caller's transaction.
type KeyStore struct {
	df   *DataFile
	name string

	mu     sync.RWMutex
	byKey  *treemap.Map // string(key) -> *entry
	bySeq  *treemap.Map // uint64(seq) -> *entry
	seq    *keystore.SequenceClock
	purged uint64
	closed bool
	writes int
}

var _ keystore.KeyStore = (*KeyStore)(nil)

func newKeyStore(df *DataFile, name string) *KeyStore {
	return &KeyStore{
		df:    df,
		name:  name,
		byKey: treemap.NewWith(utils.StringComparator),
		bySeq: treemap.NewWith(utils.UInt64Comparator),
		seq:   &keystore.SequenceClock{},
	}
}

// Name returns the store name.
func (s *KeyStore) Name() string {
	return s.name
}

// Capabilities reports sequences and queries; indexes are not supported.
func (s *KeyStore) Capabilities() keystore.Capabilities {
	return keystore.Capabilities{Sequences: true, Queries: true}
}

func (s *KeyStore) RecordCount(ctx context.Context, includeDeleted bool) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked("record count"); err != nil {
		return 0, err
	}
	if includeDeleted {
		return uint64(s.byKey.Size()), nil
	}
	var count uint64
	s.byKey.Each(func(_, v interface{}) {
		if !v.(*entry).flags.Has(keystore.FlagDeleted) {
			count++
		}
	})
	return count, nil
}

func (s *KeyStore) LastSequence(ctx context.Context) (keystore.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked("last sequence"); err != nil {
		return 0, err
	}
	return s.seq.Current(), nil
}

func (s *KeyStore) PurgeCount(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked("purge count"); err != nil {
		return 0, err
	}
	return s.purged, nil
}

func (s *KeyStore) Read(ctx context.Context, rec *keystore.Record, content keystore.ContentOption) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked("read"); err != nil {
		return false, err
	}
	e := s.lookupLocked(rec.Key)
	if e == nil {
		return false, nil
	}
	*rec = e.record(content)
	return true, nil
}

func (s *KeyStore) Get(ctx context.Context, seq keystore.Sequence, content keystore.ContentOption) (keystore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked("get"); err != nil {
		return keystore.Record{}, err
	}
	v, ok := s.bySeq.Get(uint64(seq))
	if !ok {
		return keystore.Record{}, nil
	}
	return v.(*entry).record(content), nil
}

// Set inserts or replaces a record.
func (s *KeyStore) Set(ctx context.Context, t *keystore.Transaction, req keystore.SetRequest) (keystore.Sequence, error) {
	if err := s.checkWrite(t, "set"); err != nil {
		return 0, err
	}
	if len(req.Key) == 0 {
		return 0, keystore.Errorf(keystore.ErrCodeInvalidArgument, "set", s.name, "empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.lookupLocked(req.Key)

	if req.Replacing != nil {
		if *req.Replacing == 0 && prev != nil {
			return 0, nil
		}
		if *req.Replacing > 0 && (prev == nil || prev.seq != *req.Replacing) {
			return 0, nil
		}
	}

	next := &entry{
		key:     clone(req.Key),
		version: clone(req.Version),
		body:    clone(req.Body),
		flags:   req.Flags,
	}
	if prev != nil {
		next.exp = prev.exp
	}
	if req.NewSequence {
		next.seq = s.seq.Next()
	} else {
		if prev == nil {
			return 0, nil
		}
		next.seq = prev.seq
	}

	s.replaceLocked(prev, next)
	t.OnRollback(func() { s.restore(next, prev) })
	s.writes++
	return next.seq, nil
}

// Del removes a record, checking its sequence when replacing is non-zero.
func (s *KeyStore) Del(ctx context.Context, t *keystore.Transaction, key []byte, replacing keystore.Sequence) (bool, error) {
	if err := s.checkWrite(t, "del"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.lookupLocked(key)
	if prev == nil || (replacing > 0 && prev.seq != replacing) {
		return false, nil
	}
	s.replaceLocked(prev, nil)
	s.purged++
	t.OnRollback(func() {
		s.restore(nil, prev)
		s.mu.Lock()
		s.purged--
		s.mu.Unlock()
	})
	s.writes++
	return true, nil
}

// SetDocumentFlag ORs flags into the record if its sequence is seq.
func (s *KeyStore) SetDocumentFlag(ctx context.Context, t *keystore.Transaction, key []byte, seq keystore.Sequence, flags keystore.DocumentFlags) (bool, error) {
	if err := s.checkWrite(t, "set document flag"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.lookupLocked(key)
	if prev == nil || prev.seq != seq {
		return false, nil
	}
	next := *prev
	next.flags |= flags
	s.replaceLocked(prev, &next)
	t.OnRollback(func() { s.restore(&next, prev) })
	s.writes++
	return true, nil
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

func (s *KeyStore) WithDocBodies(ctx context.Context, keys [][]byte, cb keystore.WithDocBodyCallback) ([][]byte, error) {
	s.mu.RLock()
	if err := s.checkOpenLocked("with doc bodies"); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	found := make([]*entry, len(keys))
	for i, key := range keys {
		found[i] = s.lookupLocked(key)
	}
	s.mu.RUnlock()

	// cb runs unlocked so it may call back into the store.
	result := make([][]byte, len(keys))
	for i, e := range found {
		if e == nil {
			continue
		}
		body := clone(e.body)
		if body == nil {
			body = []byte{}
		}
		result[i] = cb(keys[i], body)
	}
	return result, nil
}

// SupportsIndexes is false: memory stores have no indexes.
func (s *KeyStore) SupportsIndexes(keystore.IndexType) bool {
	return false
}

func (s *KeyStore) CreateIndex(ctx context.Context, t *keystore.Transaction, spec keystore.IndexSpec) (bool, error) {
	return false, keystore.Errorf(keystore.ErrCodeUnsupported, "create index", s.name, "memory stores have no indexes")
}

func (s *KeyStore) DeleteIndex(ctx context.Context, t *keystore.Transaction, name string) error {
	return keystore.Errorf(keystore.ErrCodeUnsupported, "delete index", s.name, "memory stores have no indexes")
}

func (s *KeyStore) GetIndexes(ctx context.Context) ([]keystore.IndexSpec, error) {
	return []keystore.IndexSpec{}, nil
}

// CompileQuery prepares q for evaluation against decoded bodies.
func (s *KeyStore) CompileQuery(ctx context.Context, q queryir.Query) (keystore.Query, error) {
	if err := s.checkOpen("compile query"); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, keystore.Errorf(keystore.ErrCodeInvalidArgument, "compile query", s.name, "nil query")
	}
	if res := queryir.Validate(q); !res.Valid {
		return nil, keystore.NewError(keystore.ErrCodeInvalidArgument, "compile query", s.name, res.Err())
	}
	sel, _ := queryir.AsSelect(q)
	return newMemQuery(s, sel), nil
}

// ShareSequencesWith makes s draw sequences from other's counter.
// other must be a memory store.
func (s *KeyStore) ShareSequencesWith(other keystore.KeyStore) {
	o, ok := other.(*KeyStore)
	if !ok {
		panic(fmt.Sprintf("memstore: store %s cannot share sequences with %T %q", s.name, other, other.Name()))
	}
	o.mu.RLock()
	clock := o.seq
	o.mu.RUnlock()
	s.mu.Lock()
	s.seq = clock
	s.mu.Unlock()
	slog.Debug("sharing sequences", "store", s.name, "with", o.name)
}

func (s *KeyStore) Reopen(ctx context.Context) error {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
	return nil
}

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
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpenLocked(op)
}

func (s *KeyStore) checkOpenLocked(op string) error {
	if s.closed {
		return keystore.NewError(keystore.ErrCodeClosed, op, s.name, nil)
	}
	return nil
}

func (s *KeyStore) checkWrite(t *keystore.Transaction, op string) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	return t.Check(op, s.name)
}

func (s *KeyStore) lookupLocked(key []byte) *entry {
	v, ok := s.byKey.Get(string(key))
	if !ok {
		return nil
	}
	return v.(*entry)
}

// replaceLocked swaps prev for next in both maps. Either may be nil.
func (s *KeyStore) replaceLocked(prev, next *entry) {
	if prev != nil {
		s.byKey.Remove(string(prev.key))
		s.bySeq.Remove(uint64(prev.seq))
	}
	if next != nil {
		s.byKey.Put(string(next.key), next)
		s.bySeq.Put(uint64(next.seq), next)
	}
}

// restore undoes a replaceLocked(prev, cur).
func (s *KeyStore) restore(cur, prev *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(cur, prev)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
