// Package sqlitestore provides SQLite-backed physical key stores.
//
// One DataFile is one SQLite database. Each KeyStore is a table named
// kv_<store> in it:
//
//	key        BLOB PRIMARY KEY   document ID
//	sequence   INTEGER UNIQUE     last mutation sequence
//	flags      INTEGER            keystore.DocumentFlags
//	version    BLOB               revision metadata
//	body       BLOB               document body (JSON for queryable docs)
//	expiration INTEGER            ms since epoch, 0 = never
//
// # Transactions
//
// DataFile.Begin opens one *sql.Tx and every store of the file writes
// through it, so writes to several stores commit or roll back together.
// While a transaction is open, reads on any store of the file also go
// through it and observe its in-flight writes.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL by default (Options.Synchronous)
//   - busy_timeout=5000 by default (Options.BusyTimeout)
//   - foreign_keys=ON
//   - a single connection: SQLite has one writer, and ":memory:" databases
//     exist per connection
//
// Traversals read in keyset-paginated batches and never hold a connection
// between calls to Next, so several enumerators can be open at once.
package sqlitestore
