package harness

// Store locations reported in traces.
const (
	StoreLive = "live"
	StoreDead = "dead"
	StoreNone = "none"
	StoreBoth = "both" // only ever seen when exclusivity is broken
)

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step  int      `json:"step"`
	Op    string   `json:"op"`
	Key   string   `json:"key,omitempty"`
	Seq   uint64   `json:"seq"`
	OK    bool     `json:"ok"`
	Store string   `json:"store,omitempty"` // where Key lives after the step
	Count *uint64  `json:"count,omitempty"`
	Keys  []string `json:"keys,omitempty"`
	Panic bool     `json:"panic,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation, invariant and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
