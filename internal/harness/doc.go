// Package harness runs YAML scenarios against a fresh docstore database.
//
// # Scenario Format
//
//	name: lifecycle
//	description: "A document is created, deleted, revived and purged"
//	engine: sqlite            # sqlite (default) or memory
//	steps:
//	  - op: set
//	    key: doc1
//	    body: {v: 1}
//	    expect: {seq: 1, store: live}
//	  - op: set
//	    key: doc1
//	    deleted: true
//	    replacing: 1
//	    expect: {seq: 2, store: dead}
//	assertions:
//	  - type: count
//	    include_deleted: true
//	    count: 1
//
// Step ops are set, del, read, get, flag, expire_set, expire_run, count and
// list. Every step runs in its own transaction. After each step the harness
// checks that no key is held by both stores and that each store only holds
// records of its kind.
//
// # Traces
//
// Each step appends one TraceEvent. Traces are compared against golden files
// under testdata/golden with RunWithGolden.
//
// Scenarios run against an in-memory database whose clock starts at
// testutil.Epoch and only moves on expire_run steps, so traces are
// deterministic.
package harness
