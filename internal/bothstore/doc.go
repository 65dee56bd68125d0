// Package bothstore joins a live store and a dead store into one KeyStore.
//
// The live store holds current document revisions and the dead store holds
// tombstones (records flagged keystore.FlagDeleted). Callers see a single
// store with one sequence space:
//
//	live  ┐
//	      ├─ Store ── keystore.KeyStore
//	dead  ┘
//
// # Invariants
//
//   - A key is held by at most one of the two stores outside a transaction.
//   - A record flagged deleted lives in the dead store; any other record
//     lives in the live store. Set is the only operation that moves a
//     record between them.
//   - Both stores draw sequences from one counter. The owner must call
//     dead.ShareSequencesWith(live) before handing the stores to New.
//
// # Transactions
//
// Store never begins or commits a transaction. A move is a write to one
// store and a delete from the other through the caller's Transaction, so
// both stores must commit through the same transactional boundary.
//
// # Traversal
//
// When deleted records are requested, enumerators merge the two stores'
// traversals lazily, one buffered record per side. Otherwise the live
// store's traversal is returned as is.
package bothstore
