package keystore

import (
	"context"

	"github.com/roach88/docstore/internal/queryir"
)

// ExpirationCallback is called with the key of every expired record.
type ExpirationCallback func(key []byte)

// WithDocBodyCallback receives a found document's key and stored body and
// returns the value to report for it.
type WithDocBodyCallback func(key, body []byte) []byte

// KeyStore is a single logical key-value store of document records.
//
// Implementations are not required to be safe for concurrent writers; callers
// serialize writes through one Transaction at a time.
type KeyStore interface {
	TransactionObserver

	// Name returns the store name, unique within its data file.
	Name() string

	// Capabilities reports optional features.
	Capabilities() Capabilities

	// RecordCount counts live records, plus tombstones when includeDeleted is true.
	RecordCount(ctx context.Context, includeDeleted bool) (uint64, error)

	// LastSequence returns the highest sequence ever assigned by the store's
	// sequence source.
	LastSequence(ctx context.Context) (Sequence, error)

	// PurgeCount returns how many records Del has removed.
	PurgeCount(ctx context.Context) (uint64, error)

	// Read looks up rec.Key and fills in rec. Returns false when absent.
	Read(ctx context.Context, rec *Record, content ContentOption) (bool, error)

	// Get looks up a record by sequence. The result does not Exist when absent.
	Get(ctx context.Context, seq Sequence, content ContentOption) (Record, error)

	// Set writes a record and returns its sequence, or 0 when the optimistic
	// check in req.Replacing fails.
	Set(ctx context.Context, t *Transaction, req SetRequest) (Sequence, error)

	// Del removes a record. A non-zero replacing must match the stored sequence.
	// Returns false when nothing was removed.
	Del(ctx context.Context, t *Transaction, key []byte, replacing Sequence) (bool, error)

	// SetDocumentFlag ORs flags into the record whose sequence is seq.
	SetDocumentFlag(ctx context.Context, t *Transaction, key []byte, seq Sequence, flags DocumentFlags) (bool, error)

	// SetExpiration sets or (with NoExpiration) clears a record's expiration.
	SetExpiration(ctx context.Context, t *Transaction, key []byte, exp Expiration) (bool, error)

	// GetExpiration returns a record's expiration, NoExpiration if none or absent.
	GetExpiration(ctx context.Context, key []byte) (Expiration, error)

	// NextExpiration returns the earliest expiration in the store, NoExpiration if none.
	NextExpiration(ctx context.Context) (Expiration, error)

	// ExpireRecords removes every record whose expiration has passed.
	ExpireRecords(ctx context.Context, t *Transaction, cb ExpirationCallback) (uint64, error)

	// CompileQuery compiles q against the store's documents.
	CompileQuery(ctx context.Context, q queryir.Query) (Query, error)

	// WithDocBodies resolves each key's body through cb. The result has one
	// entry per key; entries for missing keys are nil.
	WithDocBodies(ctx context.Context, keys [][]byte, cb WithDocBodyCallback) ([][]byte, error)

	// SupportsIndexes reports whether the engine can build indexes of typ.
	SupportsIndexes(typ IndexType) bool

	// CreateIndex creates an index. Returns false if an identical index exists.
	CreateIndex(ctx context.Context, t *Transaction, spec IndexSpec) (bool, error)

	// DeleteIndex drops the named index.
	DeleteIndex(ctx context.Context, t *Transaction, name string) error

	// GetIndexes lists the store's indexes ordered by name.
	GetIndexes(ctx context.Context) ([]IndexSpec, error)

	// ShareSequencesWith makes the store draw sequences from other's source.
	ShareSequencesWith(other KeyStore)

	// NewEnumeratorImpl opens a raw traversal. Skip and Limit are ignored;
	// see RecordEnumerator.
	NewEnumeratorImpl(ctx context.Context, bySequence bool, since Sequence, opts EnumeratorOptions) (EnumeratorImpl, error)

	// Reopen reacquires resources released by Close.
	Reopen(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
