// Package memstore provides in-memory physical key stores.
//
// Each KeyStore keeps two ordered maps over the same immutable entries, one
// keyed by document key and one by sequence. Writes replace entries rather
// than mutating them, so an enumerator's snapshot stays valid while the
// store changes underneath it.
//
// Rollback is an undo log: every mutation registers a closure on the
// Transaction that puts the previous entry back. Sequence numbers consumed
// by a rolled back transaction are not reused.
//
// Indexes are not supported. Queries are evaluated by decoding each body.
package memstore
