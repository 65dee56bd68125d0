// Package keystore defines the contract shared by every document key-value
// store in docstore, and the types exchanged with it.
//
// A KeyStore holds Records keyed by document ID. Every mutation is stamped
// with a Sequence drawn from a monotonic counter; stores that share a counter
// (see KeyStore.ShareSequencesWith) never collide on sequence values.
//
// # Transactions
//
// Transactions are created by the data file that owns a group of stores and
// are passed by the caller into every mutating call. All stores of one data
// file commit or roll back together:
//   - SQLite-backed stores write through the transaction's *sql.Tx
//   - In-memory stores push undo closures with Transaction.OnRollback
//
// Observers registered on a transaction receive TransactionWillEnd just
// before the commit or rollback happens.
//
// # Enumeration
//
// A KeyStore exposes a raw traversal (EnumeratorImpl) that honours ordering,
// direction, the since-cursor and filtering. RecordEnumerator wraps it and
// applies Skip and Limit to the final stream, so composite stores can merge
// several raw traversals before any element is skipped.
package keystore
