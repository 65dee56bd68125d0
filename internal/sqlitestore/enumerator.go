package sqlitestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/docstore/internal/keystore"
)

// enumeratorBatchSize is how many rows one page of a traversal reads.
// Pages are read with a keyset cursor so no statement stays open between
// calls to Next, which keeps the single connection free for writes.
const enumeratorBatchSize = 100

type enumerator struct {
	store      *KeyStore
	bySequence bool
	since      keystore.Sequence
	opts       keystore.EnumeratorOptions

	batch   []keystore.Record
	pos     int
	started bool
	lastKey []byte
	lastSeq keystore.Sequence
	done    bool
	closed  bool
	current keystore.Record
}

// NewEnumeratorImpl opens a paginated traversal by sequence or by key.
func (s *KeyStore) NewEnumeratorImpl(ctx context.Context, bySequence bool, since keystore.Sequence, opts keystore.EnumeratorOptions) (keystore.EnumeratorImpl, error) {
	if err := s.checkOpen("enumerate"); err != nil {
		return nil, err
	}
	return &enumerator{
		store:      s,
		bySequence: bySequence,
		since:      since,
		opts:       opts,
		pos:        -1,
	}, nil
}

func (e *enumerator) Next(ctx context.Context) (bool, error) {
	if e.closed || e.done {
		return false, nil
	}
	e.pos++
	if e.pos >= len(e.batch) {
		if e.started && len(e.batch) < enumeratorBatchSize {
			e.finish()
			return false, nil
		}
		if err := e.fetch(ctx); err != nil {
			e.finish()
			return false, err
		}
		if len(e.batch) == 0 {
			e.finish()
			return false, nil
		}
	}
	e.current = e.batch[e.pos]
	e.lastKey = e.current.Key
	e.lastSeq = e.current.Sequence
	return true, nil
}

func (e *enumerator) Record() keystore.Record {
	return e.current
}

func (e *enumerator) Close() error {
	e.closed = true
	e.batch = nil
	return nil
}

func (e *enumerator) finish() {
	e.done = true
	e.batch = nil
	e.current = keystore.Record{}
}

// fetch reads the next page after the cursor.
func (e *enumerator) fetch(ctx context.Context) error {
	s := e.store
	if err := s.checkOpen("enumerate"); err != nil {
		return err
	}

	var (
		where []string
		args  []any
	)
	if !e.opts.IncludeDeleted {
		where = append(where, fmt.Sprintf("(flags & %d) = 0", keystore.FlagDeleted))
	}
	if e.opts.OnlyConflicts {
		where = append(where, fmt.Sprintf("(flags & %d) != 0", keystore.FlagConflicted))
	}

	dir, cmp := "ASC", ">"
	if e.opts.Descending {
		dir, cmp = "DESC", "<"
	}
	order := "key"
	if e.bySequence {
		order = "sequence"
		where = append(where, "sequence > ?")
		args = append(args, int64(e.since))
		if e.started {
			where = append(where, "sequence "+cmp+" ?")
			args = append(args, int64(e.lastSeq))
		}
	} else if e.started {
		where = append(where, "key "+cmp+" ?")
		args = append(args, e.lastKey)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", recordColumns(e.opts.Content), quoteIdent(s.table))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT %d", order, dir, enumeratorBatchSize)

	rows, err := s.df.querier().QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("enumerate %s: %w", s.name, err)
	}
	defer rows.Close()

	batch := make([]keystore.Record, 0, enumeratorBatchSize)
	for rows.Next() {
		var rec keystore.Record
		if err := scanRecord(rows, &rec, e.opts.Content); err != nil {
			return fmt.Errorf("enumerate %s: scan: %w", s.name, err)
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("enumerate %s: %w", s.name, err)
	}

	e.batch = batch
	e.pos = 0
	e.started = true
	return nil
}
