package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/docstore/internal/keystore"
)

// Options configures a DataFile.
type Options struct {
	// Clock supplies wall time for expiration. Defaults to the system clock.
	Clock keystore.Clock
}

// DataFile groups in-memory stores that commit through one transaction.
type DataFile struct {
	clock keystore.Clock

	mu      sync.Mutex
	stores  map[string]*KeyStore
	current *keystore.Transaction
	closed  bool
}

// NewDataFile creates an empty in-memory data file.
func NewDataFile(opts Options) *DataFile {
	if opts.Clock == nil {
		opts.Clock = keystore.SystemClock{}
	}
	return &DataFile{
		clock:  opts.Clock,
		stores: make(map[string]*KeyStore),
	}
}

// KeyStore returns the named store, creating it on first use.
func (df *DataFile) KeyStore(name string) (*KeyStore, error) {
	if !keystore.ValidIdentifier(name) {
		return nil, keystore.Errorf(keystore.ErrCodeInvalidArgument, "open store", name, "invalid store name")
	}
	df.mu.Lock()
	defer df.mu.Unlock()
	if df.closed {
		return nil, keystore.NewError(keystore.ErrCodeClosed, "open store", name, nil)
	}
	if ks, ok := df.stores[name]; ok {
		return ks, nil
	}
	ks := newKeyStore(df, name)
	df.stores[name] = ks
	return ks, nil
}

// Begin starts a transaction. The file's stores observe it along with any
// extra observers. Only one may be open at a time.
func (df *DataFile) Begin(ctx context.Context, observers ...keystore.TransactionObserver) (*keystore.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	df.mu.Lock()
	defer df.mu.Unlock()
	if df.closed {
		return nil, keystore.NewError(keystore.ErrCodeClosed, "begin transaction", "", nil)
	}
	if df.current != nil {
		return nil, fmt.Errorf("begin transaction: transaction %s already open", df.current.ID())
	}
	all := make([]keystore.TransactionObserver, 0, len(observers)+len(df.stores)+1)
	all = append(all, observers...)
	for _, name := range slices.Sorted(maps.Keys(df.stores)) {
		all = append(all, df.stores[name])
	}
	all = append(all, df)
	t := keystore.NewTransaction(nil, all...)
	df.current = t
	slog.Debug("transaction begun", "txn", t.ID(), "path", ":memory:")
	return t, nil
}

// TransactionWillEnd releases the current transaction.
func (df *DataFile) TransactionWillEnd(bool) {
	df.mu.Lock()
	df.current = nil
	df.mu.Unlock()
}

// Close closes every store. The data is discarded with the DataFile.
func (df *DataFile) Close() error {
	df.mu.Lock()
	defer df.mu.Unlock()
	df.closed = true
	for _, ks := range df.stores {
		ks.markClosed()
	}
	return nil
}
