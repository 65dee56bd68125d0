package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/docstore/internal/keystore"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s seq=%d ok=%t store=%s\n",
				ev.Step, ev.Op, ev.Key, ev.Seq, ev.OK, ev.Store)
		}
	}
	return buf.String()
}

// EvaluateAssertions evaluates every assertion against the harness's final
// state. Returns one message per failed assertion.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion, trace []TraceEvent) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertExclusive:
			err = assertExclusive(ctx, h, assertion)
		case AssertLocation:
			err = assertLocation(ctx, h, assertion)
		case AssertCount:
			err = assertCount(ctx, h, assertion)
		case AssertSequenceOrder:
			err = assertSequenceOrder(ctx, h, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}

		if err != nil {
			if ae, ok := err.(*AssertionError); ok {
				ae.Trace = trace
			}
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertExclusive checks that no key is held by both stores.
func assertExclusive(ctx context.Context, h *Harness, a Assertion) error {
	keys := a.Keys
	if len(keys) == 0 {
		keys = h.touched
	}
	var both []string
	for _, key := range keys {
		loc, err := h.location(ctx, key)
		if err != nil {
			return err
		}
		if loc == StoreBoth {
			both = append(both, key)
		}
	}
	if len(both) > 0 {
		return &AssertionError{
			Type:     AssertExclusive,
			Expected: "every key in at most one store",
			Actual:   fmt.Sprintf("in both stores: %v", both),
		}
	}
	return nil
}

func assertLocation(ctx context.Context, h *Harness, a Assertion) error {
	loc, err := h.location(ctx, a.Key)
	if err != nil {
		return err
	}
	if loc != a.Store {
		return &AssertionError{
			Type:     AssertLocation,
			Expected: fmt.Sprintf("%q in %s", a.Key, a.Store),
			Actual:   fmt.Sprintf("%q in %s", a.Key, loc),
		}
	}
	return nil
}

func assertCount(ctx context.Context, h *Harness, a Assertion) error {
	n, err := h.store.RecordCount(ctx, a.IncludeDeleted)
	if err != nil {
		return err
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d records (include_deleted=%t)", *a.Count, a.IncludeDeleted),
			Actual:   fmt.Sprintf("%d records", n),
		}
	}
	return nil
}

// assertSequenceOrder enumerates both stores by sequence and checks that
// sequences are strictly ordered, and match Keys when given.
func assertSequenceOrder(ctx context.Context, h *Harness, a Assertion) error {
	opts := keystore.EnumeratorOptions{
		IncludeDeleted: true,
		Descending:     a.Descending,
		Content:        keystore.MetaOnly,
	}
	e, err := keystore.NewRecordEnumerator(ctx, h.store, true, 0, opts)
	if err != nil {
		return err
	}
	recs, err := keystore.Collect(e)
	if err != nil {
		return err
	}

	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = string(rec.Key)
		if i == 0 {
			continue
		}
		prev := recs[i-1].Sequence
		if (!a.Descending && rec.Sequence <= prev) || (a.Descending && rec.Sequence >= prev) {
			return &AssertionError{
				Type:     AssertSequenceOrder,
				Expected: "strictly ordered sequences",
				Actual:   fmt.Sprintf("%d followed by %d at position %d", prev, rec.Sequence, i),
			}
		}
	}
	if a.Keys != nil && !slices.Equal(keys, a.Keys) {
		return &AssertionError{
			Type:     AssertSequenceOrder,
			Expected: fmt.Sprintf("%v", a.Keys),
			Actual:   fmt.Sprintf("%v", keys),
		}
	}
	return nil
}
