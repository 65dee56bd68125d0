package bothstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/roach88/docstore/internal/keystore"
)

// side is one store's traversal plus its buffered next record.
type side struct {
	impl    keystore.EnumeratorImpl
	pending keystore.Record
	ok      bool // pending holds a record
	done    bool // impl is exhausted
}

// advance buffers impl's next record.
func (sd *side) advance(ctx context.Context) error {
	if sd.done {
		return nil
	}
	ok, err := sd.impl.Next(ctx)
	if err != nil {
		return err
	}
	if !ok {
		sd.done = true
		sd.ok = false
		sd.pending = keystore.Record{}
		return nil
	}
	sd.pending = sd.impl.Record()
	sd.ok = true
	return nil
}

// mergeEnumerator yields the union of two stores' traversals in order.
// Both traversals use the same mode, cursor and options, so each is already
// sorted the way the merged stream must be.
type mergeEnumerator struct {
	live, dead *side
	bySequence bool
	descending bool

	last    *side // side whose record was emitted last
	started bool
	current keystore.Record
	err     error
}

func newMergeEnumerator(ctx context.Context, live, dead keystore.KeyStore, bySequence bool, since keystore.Sequence, opts keystore.EnumeratorOptions) (*mergeEnumerator, error) {
	liveImpl, err := live.NewEnumeratorImpl(ctx, bySequence, since, opts)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", live.Name(), err)
	}
	deadImpl, err := dead.NewEnumeratorImpl(ctx, bySequence, since, opts)
	if err != nil {
		liveImpl.Close()
		return nil, fmt.Errorf("enumerate %s: %w", dead.Name(), err)
	}
	return &mergeEnumerator{
		live:       &side{impl: liveImpl},
		dead:       &side{impl: deadImpl},
		bySequence: bySequence,
		descending: opts.Descending,
	}, nil
}

// Next refills only the side consumed last, then emits the lesser pending
// record (the greater when descending).
func (m *mergeEnumerator) Next(ctx context.Context) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if !m.started {
		m.started = true
		if err := m.refill(ctx, m.live); err != nil {
			return false, err
		}
		if err := m.refill(ctx, m.dead); err != nil {
			return false, err
		}
	} else if m.last != nil {
		if err := m.refill(ctx, m.last); err != nil {
			return false, err
		}
	}

	var next *side
	switch {
	case m.live.ok && m.dead.ok:
		if m.before(&m.live.pending, &m.dead.pending) {
			next = m.live
		} else {
			next = m.dead
		}
	case m.live.ok:
		next = m.live
	case m.dead.ok:
		next = m.dead
	default:
		m.last = nil
		m.current = keystore.Record{}
		return false, nil
	}

	m.last = next
	m.current = next.pending
	next.ok = false
	return true, nil
}

func (m *mergeEnumerator) refill(ctx context.Context, sd *side) error {
	if err := sd.advance(ctx); err != nil {
		m.err = err
		m.current = keystore.Record{}
		return err
	}
	return nil
}

// before reports whether a sorts ahead of b in the traversal order.
func (m *mergeEnumerator) before(a, b *keystore.Record) bool {
	var cmp int
	if m.bySequence {
		switch {
		case a.Sequence < b.Sequence:
			cmp = -1
		case a.Sequence > b.Sequence:
			cmp = 1
		}
	} else {
		cmp = bytes.Compare(a.Key, b.Key)
	}
	if m.descending {
		return cmp > 0
	}
	return cmp < 0
}

func (m *mergeEnumerator) Record() keystore.Record {
	return m.current
}

// Close closes both traversals.
func (m *mergeEnumerator) Close() error {
	return errors.Join(m.live.impl.Close(), m.dead.impl.Close())
}
