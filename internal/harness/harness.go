package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/roach88/docstore/internal/bothstore"
	"github.com/roach88/docstore/internal/config"
	"github.com/roach88/docstore/internal/database"
	"github.com/roach88/docstore/internal/keystore"
	"github.com/roach88/docstore/internal/testutil"
)

// Harness is the scenario execution engine. It holds one database for the
// duration of a scenario.
type Harness struct {
	db      *database.Database
	store   *bothstore.Store
	clock   *testutil.FakeClock
	logger  *slog.Logger
	touched []string // keys in first-touch order
	seen    map[string]bool
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. An error
// is returned only when a step cannot be executed at all; failed
// expectations and assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Path = ":memory:"
	if scenario.Engine != "" {
		cfg.Engine = scenario.Engine
	}
	clock := testutil.NewFakeClock(testutil.Epoch)
	db, err := database.Open(ctx, cfg, database.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}
	defer db.Close()

	h := &Harness{
		db:     db,
		store:  db.Store(),
		clock:  clock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		seen:   map[string]bool{},
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.runStep(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Op, err)
		}
		result.AddTrace(ev)
		checkExpect(i, step, ev, result)
		if err := h.checkInvariants(ctx, i, result); err != nil {
			return nil, fmt.Errorf("steps[%d] invariants: %w", i, err)
		}
		h.logger.Info("step completed", "step", i, "op", step.Op, "key", step.Key, "seq", ev.Seq, "ok", ev.OK)
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions, result.Trace) {
		result.AddError(msg)
	}
	return result, nil
}

// runStep executes one step and returns its trace event. A panic inside the
// store is recovered and reported as a panicked event.
func (h *Harness) runStep(ctx context.Context, i int, step Step) (ev TraceEvent, err error) {
	ev = TraceEvent{Step: i + 1, Op: step.Op, Key: step.Key}
	if step.Key != "" {
		h.touch(step.Key)
	}

	func() {
		defer func() {
			if p := recover(); p != nil {
				h.logger.Info("step panicked", "step", i, "op", step.Op, "panic", p)
				ev.Panic = true
				ev.OK = false
				ev.Seq = 0
				err = nil
			}
		}()
		err = h.execute(ctx, step, &ev)
	}()
	if err != nil {
		return ev, err
	}

	if ev.Key != "" {
		ev.Store, err = h.location(ctx, ev.Key)
	}
	return ev, err
}

func (h *Harness) execute(ctx context.Context, step Step, ev *TraceEvent) error {
	key := []byte(step.Key)

	switch step.Op {
	case OpSet:
		req, err := buildSetRequest(step)
		if err != nil {
			return err
		}
		var seq keystore.Sequence
		err = h.db.InTransaction(ctx, func(t *keystore.Transaction) error {
			seq, err = h.store.Set(ctx, t, req)
			return err
		})
		ev.Seq, ev.OK = uint64(seq), seq > 0
		return err

	case OpDel:
		var replacing keystore.Sequence
		if step.Replacing != nil {
			replacing = keystore.Sequence(*step.Replacing)
		}
		return h.db.InTransaction(ctx, func(t *keystore.Transaction) error {
			var err error
			ev.OK, err = h.store.Del(ctx, t, key, replacing)
			return err
		})

	case OpRead:
		rec := keystore.Record{Key: key}
		found, err := h.store.Read(ctx, &rec, keystore.MetaOnly)
		ev.OK, ev.Seq = found, uint64(rec.Sequence)
		return err

	case OpGet:
		rec, err := h.store.Get(ctx, keystore.Sequence(step.Seq), keystore.MetaOnly)
		if err != nil {
			return err
		}
		ev.OK = rec.Exists()
		ev.Seq = uint64(rec.Sequence)
		if ev.OK {
			ev.Key = string(rec.Key)
			h.touch(ev.Key)
		}
		return nil

	case OpFlag:
		flags, err := parseFlags(step.Flags)
		if err != nil {
			return err
		}
		seq := keystore.Sequence(step.Seq)
		if seq == 0 {
			rec := keystore.Record{Key: key}
			if _, err := h.store.Read(ctx, &rec, keystore.MetaOnly); err != nil {
				return err
			}
			seq = rec.Sequence
		}
		ev.Seq = uint64(seq)
		return h.db.InTransaction(ctx, func(t *keystore.Transaction) error {
			var err error
			ev.OK, err = h.store.SetDocumentFlag(ctx, t, key, seq, flags)
			return err
		})

	case OpExpireSet:
		exp := keystore.NoExpiration
		if step.ExpiresInMS > 0 {
			exp = keystore.ExpirationAt(h.clock.Now().Add(time.Duration(step.ExpiresInMS) * time.Millisecond))
		}
		return h.db.InTransaction(ctx, func(t *keystore.Transaction) error {
			var err error
			ev.OK, err = h.store.SetExpiration(ctx, t, key, exp)
			return err
		})

	case OpExpireRun:
		h.clock.Advance(time.Duration(step.AdvanceMS) * time.Millisecond)
		var expired []string
		var n uint64
		err := h.db.InTransaction(ctx, func(t *keystore.Transaction) error {
			var err error
			n, err = h.store.ExpireRecords(ctx, t, func(k []byte) {
				expired = append(expired, string(k))
			})
			return err
		})
		sort.Strings(expired)
		ev.OK, ev.Count, ev.Keys = err == nil, &n, expired
		return err

	case OpCount:
		n, err := h.store.RecordCount(ctx, step.IncludeDeleted)
		ev.OK, ev.Count = err == nil, &n
		return err

	case OpList:
		opts := keystore.EnumeratorOptions{
			IncludeDeleted: step.IncludeDeleted,
			Descending:     step.Descending,
			Skip:           step.Skip,
			Limit:          step.Limit,
			Content:        keystore.MetaOnly,
		}
		keys, err := h.listKeys(ctx, h.store, !step.ByKey, keystore.Sequence(step.Since), opts)
		n := uint64(len(keys))
		ev.OK, ev.Count, ev.Keys = err == nil, &n, keys
		return err

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func buildSetRequest(step Step) (keystore.SetRequest, error) {
	req := keystore.SetRequest{
		Key:         []byte(step.Key),
		NewSequence: !step.KeepSequence,
	}
	if step.Version != "" {
		req.Version = []byte(step.Version)
	}
	if step.Body != nil {
		body, err := json.Marshal(step.Body)
		if err != nil {
			return req, fmt.Errorf("encode body: %w", err)
		}
		req.Body = body
	}
	if step.Deleted {
		req.Flags |= keystore.FlagDeleted
	}
	if step.Conflicted {
		req.Flags |= keystore.FlagConflicted
	}
	if step.Replacing != nil {
		req.Replacing = keystore.Replacing(keystore.Sequence(*step.Replacing))
	}
	return req, nil
}

func parseFlags(names []string) (keystore.DocumentFlags, error) {
	var flags keystore.DocumentFlags
	for _, name := range names {
		switch name {
		case "deleted":
			flags |= keystore.FlagDeleted
		case "conflicted":
			flags |= keystore.FlagConflicted
		case "attachments":
			flags |= keystore.FlagHasAttachments
		case "synced":
			flags |= keystore.FlagSynced
		default:
			return 0, fmt.Errorf("unknown flag %q", name)
		}
	}
	return flags, nil
}

func (h *Harness) touch(key string) {
	if !h.seen[key] {
		h.seen[key] = true
		h.touched = append(h.touched, key)
	}
}

// location reports which physical store holds key.
func (h *Harness) location(ctx context.Context, key string) (string, error) {
	inLive, err := h.store.Live().Read(ctx, &keystore.Record{Key: []byte(key)}, keystore.MetaOnly)
	if err != nil {
		return "", err
	}
	inDead, err := h.store.Dead().Read(ctx, &keystore.Record{Key: []byte(key)}, keystore.MetaOnly)
	if err != nil {
		return "", err
	}
	switch {
	case inLive && inDead:
		return StoreBoth, nil
	case inLive:
		return StoreLive, nil
	case inDead:
		return StoreDead, nil
	default:
		return StoreNone, nil
	}
}

func (h *Harness) listKeys(ctx context.Context, ks keystore.KeyStore, bySequence bool, since keystore.Sequence, opts keystore.EnumeratorOptions) ([]string, error) {
	e, err := keystore.NewRecordEnumerator(ctx, ks, bySequence, since, opts)
	if err != nil {
		return nil, err
	}
	recs, err := keystore.Collect(e)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = string(rec.Key)
	}
	return keys, nil
}

// checkInvariants verifies that no touched key is in both stores and that
// the live store holds no tombstones and the dead store nothing else.
func (h *Harness) checkInvariants(ctx context.Context, i int, result *Result) error {
	for _, key := range h.touched {
		loc, err := h.location(ctx, key)
		if err != nil {
			return err
		}
		if loc == StoreBoth {
			result.AddError(fmt.Sprintf("steps[%d]: key %q is in both stores", i, key))
		}
	}

	all := keystore.EnumeratorOptions{IncludeDeleted: true, Content: keystore.MetaOnly}
	for _, side := range []struct {
		ks      keystore.KeyStore
		deleted bool
	}{
		{h.store.Live(), false},
		{h.store.Dead(), true},
	} {
		e, err := keystore.NewRecordEnumerator(ctx, side.ks, true, 0, all)
		if err != nil {
			return err
		}
		recs, err := keystore.Collect(e)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.Deleted() != side.deleted {
				result.AddError(fmt.Sprintf("steps[%d]: store %s holds %q with flags %s",
					i, side.ks.Name(), rec.Key, rec.Flags))
			}
		}
	}
	return nil
}

// checkExpect compares an event with its step's expectation.
func checkExpect(i int, step Step, ev TraceEvent, result *Result) {
	prefix := fmt.Sprintf("steps[%d] %s %s", i, step.Op, step.Key)
	e := step.Expect
	if e == nil {
		e = &Expect{}
	}
	if e.Panic != ev.Panic {
		result.AddError(fmt.Sprintf("%s: expected panic=%t, got %t", prefix, e.Panic, ev.Panic))
	}
	if e.OK != nil && *e.OK != ev.OK {
		result.AddError(fmt.Sprintf("%s: expected ok=%t, got %t", prefix, *e.OK, ev.OK))
	}
	if e.Seq != nil && *e.Seq != ev.Seq {
		result.AddError(fmt.Sprintf("%s: expected seq=%d, got %d", prefix, *e.Seq, ev.Seq))
	}
	if e.Store != "" && e.Store != ev.Store {
		result.AddError(fmt.Sprintf("%s: expected store=%s, got %s", prefix, e.Store, ev.Store))
	}
	if e.Count != nil && (ev.Count == nil || *ev.Count != *e.Count) {
		got := "none"
		if ev.Count != nil {
			got = fmt.Sprint(*ev.Count)
		}
		result.AddError(fmt.Sprintf("%s: expected count=%d, got %s", prefix, *e.Count, got))
	}
	if e.Keys != nil && !slices.Equal(e.Keys, ev.Keys) {
		result.AddError(fmt.Sprintf("%s: expected keys=%v, got %v", prefix, e.Keys, ev.Keys))
	}
}
