package memstore

import (
	"context"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/roach88/docstore/internal/keystore"
)

// enumerator walks a snapshot of the store's entries taken when it opened.
type enumerator struct {
	entries []*entry
	content keystore.ContentOption
	pos     int
	current keystore.Record
}

// NewEnumeratorImpl snapshots the matching entries in traversal order.
func (s *KeyStore) NewEnumeratorImpl(ctx context.Context, bySequence bool, since keystore.Sequence, opts keystore.EnumeratorOptions) (keystore.EnumeratorImpl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpenLocked("enumerate"); err != nil {
		return nil, err
	}

	var m *treemap.Map
	if bySequence {
		m = s.bySeq
	} else {
		m = s.byKey
	}

	var entries []*entry
	keep := func(e *entry) {
		if bySequence && e.seq <= since {
			return
		}
		if !opts.IncludeDeleted && e.flags.Has(keystore.FlagDeleted) {
			return
		}
		if opts.OnlyConflicts && !e.flags.Has(keystore.FlagConflicted) {
			return
		}
		entries = append(entries, e)
	}

	it := m.Iterator()
	if opts.Descending {
		for it.End(); it.Prev(); {
			keep(it.Value().(*entry))
		}
	} else {
		for it.Begin(); it.Next(); {
			keep(it.Value().(*entry))
		}
	}

	return &enumerator{entries: entries, content: opts.Content, pos: -1}, nil
}

func (e *enumerator) Next(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.pos++
	if e.pos >= len(e.entries) {
		e.entries = nil
		e.current = keystore.Record{}
		return false, nil
	}
	e.current = e.entries[e.pos].record(e.content)
	return true, nil
}

func (e *enumerator) Record() keystore.Record {
	return e.current
}

func (e *enumerator) Close() error {
	e.entries = nil
	return nil
}
