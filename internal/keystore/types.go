package keystore

import (
	"fmt"
	"strings"
)

// Sequence orders every mutation of a group of stores.
// Zero means "no sequence" and doubles as the conflict result of Set.
type Sequence uint64

// Expiration is an absolute time in milliseconds since the Unix epoch.
// Zero means the record never expires.
type Expiration int64

// NoExpiration is the sentinel for records without an expiration time.
const NoExpiration Expiration = 0

// DocumentFlags is the per-record flag set.
type DocumentFlags uint8

const (
	// FlagDeleted marks a tombstone.
	FlagDeleted DocumentFlags = 1 << iota
	// FlagConflicted marks a document with unresolved conflicting revisions.
	FlagConflicted
	// FlagHasAttachments marks a document that references blobs.
	FlagHasAttachments
	// FlagSynced marks a revision that has been pushed to a peer.
	FlagSynced
)

// Has reports whether all bits of other are set in f.
func (f DocumentFlags) Has(other DocumentFlags) bool {
	return f&other == other
}

// String renders the flags as a "|"-joined list, e.g. "deleted|conflicted".
func (f DocumentFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	names := []struct {
		bit  DocumentFlags
		name string
	}{
		{FlagDeleted, "deleted"},
		{FlagConflicted, "conflicted"},
		{FlagHasAttachments, "attachments"},
		{FlagSynced, "synced"},
	}
	rest := f
	for _, n := range names {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// ContentOption selects how much of a record is loaded.
type ContentOption int

const (
	// MetaOnly loads key, sequence, version, flags and expiration, not the body.
	MetaOnly ContentOption = iota
	// CurrentRevOnly loads the body of the current revision.
	CurrentRevOnly
	// EntireBody loads the whole body.
	EntireBody
)

// LoadsBody reports whether the option materializes Record.Body.
func (o ContentOption) LoadsBody() bool {
	return o != MetaOnly
}

// Record is the unit of data exchanged with a KeyStore.
//
// For reads, Key is the input and the remaining fields are filled in.
type Record struct {
	Key        []byte
	Version    []byte
	Body       []byte // nil when loaded with MetaOnly
	Sequence   Sequence
	Flags      DocumentFlags
	Expiration Expiration
	BodySize   int64
	Content    ContentOption
}

// Exists reports whether the record was found.
func (r *Record) Exists() bool {
	return r.Sequence > 0
}

// Deleted reports whether the record is a tombstone.
func (r *Record) Deleted() bool {
	return r.Flags.Has(FlagDeleted)
}

// SetRequest describes one Set call.
type SetRequest struct {
	Key     []byte
	Version []byte
	Body    []byte
	Flags   DocumentFlags

	// Replacing is the optimistic-concurrency check:
	// nil writes unconditionally, 0 requires the key to be absent,
	// any other value must equal the stored sequence.
	Replacing *Sequence

	// NewSequence assigns a fresh sequence. When false the stored sequence
	// is kept and the record must already exist.
	NewSequence bool
}

// Replacing returns a pointer suitable for SetRequest.Replacing.
func Replacing(seq Sequence) *Sequence {
	return &seq
}

// Capabilities describes what a store implementation supports.
type Capabilities struct {
	Sequences bool
	Indexes   bool
	Queries   bool
}
