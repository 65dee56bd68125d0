package keystore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// TransactionObserver is notified just before a transaction ends.
// KeyStore implements it.
type TransactionObserver interface {
	TransactionWillEnd(commit bool)
}

// Transaction is a write scope owned by the caller and shared by every store
// that participates in it.
//
// Thread-safety: a Transaction may be ended from any goroutine, but the
// stores writing through it expect a single writer at a time.
type Transaction struct {
	id        string
	tx        *sql.Tx
	observers []TransactionObserver

	mu        sync.Mutex
	undo      []func()
	ended     bool
	committed bool
}

// NewTransaction wraps tx (nil for purely in-memory data files) in a
// Transaction. Observers receive TransactionWillEnd in registration order.
func NewTransaction(tx *sql.Tx, observers ...TransactionObserver) *Transaction {
	return &Transaction{
		id:        uuid.Must(uuid.NewV7()).String(),
		tx:        tx,
		observers: observers,
	}
}

// ID returns the transaction's UUIDv7, used for log correlation.
func (t *Transaction) ID() string {
	return t.id
}

// SQL returns the underlying *sql.Tx, or nil for in-memory transactions.
func (t *Transaction) SQL() *sql.Tx {
	return t.tx
}

// Active reports whether the transaction has not yet ended.
func (t *Transaction) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.ended
}

// Committed reports whether the transaction ended with a successful commit.
func (t *Transaction) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// Observe registers an additional observer.
func (t *Transaction) Observe(o TransactionObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// OnRollback records fn to run if the transaction is rolled back.
// Undo functions run in reverse registration order.
func (t *Transaction) OnRollback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, fn)
}

// Commit notifies observers and commits. Calling Commit or Rollback on an
// ended transaction is a no-op.
func (t *Transaction) Commit() error {
	observers, ok := t.beginEnd()
	if !ok {
		return nil
	}
	for _, o := range observers {
		o.TransactionWillEnd(true)
	}
	if t.tx != nil {
		if err := t.tx.Commit(); err != nil {
			t.runUndo()
			t.finish(false)
			return fmt.Errorf("commit transaction %s: %w", t.id, err)
		}
	}
	t.finish(true)
	slog.Debug("transaction committed", "txn", t.id)
	return nil
}

// Rollback notifies observers, discards the SQL transaction and runs the
// undo log.
func (t *Transaction) Rollback() error {
	observers, ok := t.beginEnd()
	if !ok {
		return nil
	}
	for _, o := range observers {
		o.TransactionWillEnd(false)
	}
	var err error
	if t.tx != nil {
		if rbErr := t.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("rollback transaction %s: %w", t.id, rbErr)
		}
	}
	t.runUndo()
	t.finish(false)
	slog.Debug("transaction rolled back", "txn", t.id)
	return err
}

// Check returns an error if t is nil or already ended.
func (t *Transaction) Check(op, store string) error {
	if t == nil {
		return Errorf(ErrCodeInvalidArgument, op, store, "nil transaction")
	}
	if !t.Active() {
		return Errorf(ErrCodeTransactionEnded, op, store, "transaction %s", t.id)
	}
	return nil
}

func (t *Transaction) beginEnd() ([]TransactionObserver, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return nil, false
	}
	t.ended = true
	return append([]TransactionObserver(nil), t.observers...), true
}

func (t *Transaction) finish(committed bool) {
	t.mu.Lock()
	t.committed = committed
	t.undo = nil
	t.mu.Unlock()
}

func (t *Transaction) runUndo() {
	t.mu.Lock()
	undo := t.undo
	t.undo = nil
	t.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}
