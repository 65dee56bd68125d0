package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docstore/internal/config"
)

// Scenario is one conformance test: steps run in order, then assertions
// are evaluated against the final state.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Engine selects the physical engine; empty means sqlite.
	Engine string `yaml:"engine,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation on the composite store.
type Step struct {
	Op  string `yaml:"op"`
	Key string `yaml:"key,omitempty"`

	// set
	Body         map[string]any `yaml:"body,omitempty"`
	Version      string         `yaml:"version,omitempty"`
	Deleted      bool           `yaml:"deleted,omitempty"`
	Conflicted   bool           `yaml:"conflicted,omitempty"`
	KeepSequence bool           `yaml:"keep_sequence,omitempty"`

	// Replacing is the optimistic check for set and del. Absent means
	// unconditional; 0 on set means insert-only.
	Replacing *uint64 `yaml:"replacing,omitempty"`

	// get and flag; flag uses the key's current sequence when zero.
	Seq uint64 `yaml:"seq,omitempty"`

	// flag: any of conflicted, attachments, synced, deleted.
	Flags []string `yaml:"flags,omitempty"`

	// expire_set: milliseconds after the current clock; 0 clears.
	ExpiresInMS int64 `yaml:"expires_in_ms,omitempty"`

	// expire_run: milliseconds to advance the clock first.
	AdvanceMS int64 `yaml:"advance_ms,omitempty"`

	// count and list
	IncludeDeleted bool   `yaml:"include_deleted,omitempty"`
	ByKey          bool   `yaml:"by_key,omitempty"`
	Descending     bool   `yaml:"descending,omitempty"`
	Since          uint64 `yaml:"since,omitempty"`
	Skip           uint64 `yaml:"skip,omitempty"`
	Limit          uint64 `yaml:"limit,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks a step's outcome. Unset fields are not checked.
type Expect struct {
	OK    *bool    `yaml:"ok,omitempty"`
	Seq   *uint64  `yaml:"seq,omitempty"`
	Store string   `yaml:"store,omitempty"`
	Count *uint64  `yaml:"count,omitempty"`
	Keys  []string `yaml:"keys,omitempty"`
	Panic bool     `yaml:"panic,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of exclusive, location, count, sequence_order.
	Type string `yaml:"type"`

	// Keys limits exclusive to these keys (default: every key the steps
	// touched) and gives the expected order for sequence_order.
	Keys []string `yaml:"keys,omitempty"`

	// Key and Store are used by location.
	Key   string `yaml:"key,omitempty"`
	Store string `yaml:"store,omitempty"`

	// IncludeDeleted and Count are used by count.
	IncludeDeleted bool    `yaml:"include_deleted,omitempty"`
	Count          *uint64 `yaml:"count,omitempty"`

	// Descending reverses sequence_order.
	Descending bool `yaml:"descending,omitempty"`
}

// Step ops.
const (
	OpSet       = "set"
	OpDel       = "del"
	OpRead      = "read"
	OpGet       = "get"
	OpFlag      = "flag"
	OpExpireSet = "expire_set"
	OpExpireRun = "expire_run"
	OpCount     = "count"
	OpList      = "list"
)

// Assertion types.
const (
	AssertExclusive     = "exclusive"
	AssertLocation      = "location"
	AssertCount         = "count"
	AssertSequenceOrder = "sequence_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Engine {
	case "", config.EngineSQLite, config.EngineMemory:
	default:
		return fmt.Errorf("unknown engine %q", s.Engine)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Op {
	case OpSet, OpDel, OpRead, OpExpireSet:
		if st.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for %s", index, st.Op)
		}
	case OpFlag:
		if st.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for flag", index)
		}
		if len(st.Flags) == 0 {
			return fmt.Errorf("steps[%d]: flags are required for flag", index)
		}
		if _, err := parseFlags(st.Flags); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case OpGet:
		if st.Seq == 0 {
			return fmt.Errorf("steps[%d]: seq is required for get", index)
		}
	case OpExpireRun, OpCount, OpList:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	if st.ExpiresInMS < 0 || st.AdvanceMS < 0 {
		return fmt.Errorf("steps[%d]: times must be non-negative", index)
	}
	if st.Expect != nil && st.Expect.Store != "" && !validLocation(st.Expect.Store) {
		return fmt.Errorf("steps[%d].expect: unknown store %q", index, st.Expect.Store)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertExclusive, AssertSequenceOrder:
	case AssertLocation:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for location", index)
		}
		if !validLocation(a.Store) {
			return fmt.Errorf("assertions[%d]: store must be live, dead or none, got %q", index, a.Store)
		}
	case AssertCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validLocation(s string) bool {
	return s == StoreLive || s == StoreDead || s == StoreNone
}
