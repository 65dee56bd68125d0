package keystore

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/docstore/internal/queryir"
)

// IndexType is the kind of index an engine can build.
type IndexType int

const (
	// ValueIndex indexes the values of JSON properties.
	ValueIndex IndexType = iota
	// FullTextIndex indexes tokenized text.
	FullTextIndex
)

// String returns the lowercase index type name used in specs and output.
func (t IndexType) String() string {
	switch t {
	case ValueIndex:
		return "value"
	case FullTextIndex:
		return "fulltext"
	default:
		return fmt.Sprintf("IndexType(%d)", int(t))
	}
}

// ParseIndexType parses "value" or "fulltext".
func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToLower(s) {
	case "value", "":
		return ValueIndex, nil
	case "fulltext", "full_text":
		return FullTextIndex, nil
	default:
		return 0, Errorf(ErrCodeInvalidArgument, "parse index type", "", "unknown index type %q", s)
	}
}

// IndexSpec describes an index over document properties.
type IndexSpec struct {
	Name        string    `json:"name"`
	Type        IndexType `json:"-"`
	Expressions []string  `json:"expressions"`
}

// identifier matches one name or property path segment.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be used as a store or index name.
func ValidIdentifier(s string) bool {
	return identifier.MatchString(s)
}

// ValidPropertyPath reports whether path is a dotted sequence of identifiers,
// e.g. "address.city".
func ValidPropertyPath(path string) bool {
	return queryir.ValidPath(path)
}

// Normalize returns a copy of spec with its name and expressions in NFC form.
func (spec IndexSpec) Normalize() IndexSpec {
	out := IndexSpec{
		Name:        norm.NFC.String(spec.Name),
		Type:        spec.Type,
		Expressions: make([]string, len(spec.Expressions)),
	}
	for i, expr := range spec.Expressions {
		out.Expressions[i] = norm.NFC.String(strings.TrimSpace(expr))
	}
	return out
}

// Validate checks the name and every expression.
func (spec IndexSpec) Validate() error {
	if !ValidIdentifier(spec.Name) {
		return Errorf(ErrCodeInvalidArgument, "validate index", "", "invalid index name %q", spec.Name)
	}
	if len(spec.Expressions) == 0 {
		return Errorf(ErrCodeInvalidArgument, "validate index", "", "index %q has no expressions", spec.Name)
	}
	for _, expr := range spec.Expressions {
		if !ValidPropertyPath(expr) {
			return Errorf(ErrCodeInvalidArgument, "validate index", "", "index %q: invalid property path %q", spec.Name, expr)
		}
	}
	return nil
}

// Equal reports whether two specs describe the same index.
func (spec IndexSpec) Equal(other IndexSpec) bool {
	if spec.Name != other.Name || spec.Type != other.Type || len(spec.Expressions) != len(other.Expressions) {
		return false
	}
	for i := range spec.Expressions {
		if spec.Expressions[i] != other.Expressions[i] {
			return false
		}
	}
	return true
}
