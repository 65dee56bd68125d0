// Package queryir provides the query intermediate representation accepted by
// KeyStore.CompileQuery.
//
// A query selects documents from one store by matching properties of their
// JSON bodies and binds selected properties to result columns:
//
//	[queryir.Select] → [querysql: SQLite SQL]
//	                 → [memstore: in-memory evaluator]
//
// Query and Predicate are sealed interfaces using the marker method pattern,
// so backends can switch over them exhaustively.
//
// Property paths are dotted identifiers ("address.city"); each segment must
// match [A-Za-z_][A-Za-z0-9_]*. Literal values are restricted to JSON scalars:
// string, bool, nil, and the integer and float kinds.
package queryir
