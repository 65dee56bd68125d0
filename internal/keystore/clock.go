package keystore

import (
	"sync/atomic"
	"time"
)

// Clock supplies wall time for expiration.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ExpirationAt converts a wall time to an Expiration.
func ExpirationAt(t time.Time) Expiration {
	return Expiration(t.UnixMilli())
}

// Time converts e back to a wall time. NoExpiration yields the zero time.
func (e Expiration) Time() time.Time {
	if e == NoExpiration {
		return time.Time{}
	}
	return time.UnixMilli(int64(e))
}

// SequenceClock is a monotonic in-memory sequence source.
//
// Thread-safety: safe for concurrent use (atomic operations).
type SequenceClock struct {
	seq atomic.Uint64
}

// NewSequenceClockAt creates a clock whose next value is start+1.
// Used when reopening a store with a known last sequence.
func NewSequenceClockAt(start Sequence) *SequenceClock {
	c := &SequenceClock{}
	c.seq.Store(uint64(start))
	return c
}

// Next returns the next sequence number.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *SequenceClock) Next() Sequence {
	return Sequence(c.seq.Add(1))
}

// Current returns the last sequence handed out without incrementing.
func (c *SequenceClock) Current() Sequence {
	return Sequence(c.seq.Load())
}
