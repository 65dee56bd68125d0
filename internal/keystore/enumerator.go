package keystore

import (
	"context"
	"fmt"
)

// EnumeratorOptions controls a traversal.
type EnumeratorOptions struct {
	Skip           uint64 // records to skip from the start of the final stream
	Limit          uint64 // maximum records to return; 0 means unlimited
	Descending     bool
	IncludeDeleted bool
	OnlyConflicts  bool
	Content        ContentOption
}

// DefaultEnumeratorOptions returns ascending, body-loading, live-only options.
func DefaultEnumeratorOptions() EnumeratorOptions {
	return EnumeratorOptions{Content: EntireBody}
}

// Matches reports whether rec passes the option filters.
func (o EnumeratorOptions) Matches(rec *Record) bool {
	if !o.IncludeDeleted && rec.Deleted() {
		return false
	}
	if o.OnlyConflicts && !rec.Flags.Has(FlagConflicted) {
		return false
	}
	return true
}

// EnumeratorImpl is a store's raw traversal. Records come out by sequence
// or by key, ascending unless Descending was requested.
type EnumeratorImpl interface {
	// Next advances to the next record. Returns false when exhausted.
	Next(ctx context.Context) (bool, error)

	// Record returns the current record. Valid only after Next returned true.
	Record() Record

	// Close releases the traversal's resources.
	Close() error
}

// RecordEnumerator is the public traversal over a KeyStore. It applies Skip
// and Limit on top of the store's raw traversal.
//
// Usage mirrors sql.Rows:
//
//	e, err := keystore.NewRecordEnumerator(ctx, ks, true, 0, opts)
//	...
//	defer e.Close()
//	for e.Next() {
//	    rec := e.Record()
//	}
//	if err := e.Err(); err != nil { ... }
type RecordEnumerator struct {
	ctx       context.Context
	impl      EnumeratorImpl
	skip      uint64
	remaining uint64
	limited   bool
	rec       Record
	err       error
	done      bool
}

// NewRecordEnumerator opens a traversal of ks. When bySequence is true,
// records are ordered by sequence and only those with a sequence greater
// than since are returned; otherwise they are ordered by key.
func NewRecordEnumerator(ctx context.Context, ks KeyStore, bySequence bool, since Sequence, opts EnumeratorOptions) (*RecordEnumerator, error) {
	impl, err := ks.NewEnumeratorImpl(ctx, bySequence, since, opts)
	if err != nil {
		return nil, fmt.Errorf("open enumerator on %s: %w", ks.Name(), err)
	}
	return &RecordEnumerator{
		ctx:       ctx,
		impl:      impl,
		skip:      opts.Skip,
		remaining: opts.Limit,
		limited:   opts.Limit > 0,
	}, nil
}

// Next advances to the next record.
func (e *RecordEnumerator) Next() bool {
	if e.done {
		return false
	}
	for e.skip > 0 {
		if !e.advance() {
			return false
		}
		e.skip--
	}
	if e.limited && e.remaining == 0 {
		e.finish()
		return false
	}
	if !e.advance() {
		return false
	}
	e.rec = e.impl.Record()
	if e.limited {
		e.remaining--
	}
	return true
}

// Record returns the current record.
func (e *RecordEnumerator) Record() Record {
	return e.rec
}

// Err returns the error that stopped the traversal, if any.
func (e *RecordEnumerator) Err() error {
	return e.err
}

// Close releases the underlying traversal. Safe to call more than once.
func (e *RecordEnumerator) Close() error {
	if e.impl == nil {
		return nil
	}
	err := e.impl.Close()
	e.impl = nil
	e.done = true
	return err
}

func (e *RecordEnumerator) advance() bool {
	ok, err := e.impl.Next(e.ctx)
	if err != nil {
		e.err = err
		e.finish()
		return false
	}
	if !ok {
		e.finish()
		return false
	}
	return true
}

func (e *RecordEnumerator) finish() {
	e.done = true
	e.rec = Record{}
}

// Collect drains an enumerator into a slice and closes it.
func Collect(e *RecordEnumerator) ([]Record, error) {
	defer e.Close()
	var records []Record
	for e.Next() {
		records = append(records, e.Record())
	}
	if err := e.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
