package queryir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Document is a decoded JSON body.
type Document map[string]any

// DecodeDocument parses a JSON object body. Numbers become int64 when they
// are integral and float64 otherwise; booleans become int64 0 or 1, matching
// what SQLite's json_extract reports.
func DecodeDocument(body []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return normalizeValue(raw).(map[string]any), nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case map[string]any:
		for k, sub := range val {
			val[k] = normalizeValue(sub)
		}
		return val
	case []any:
		for i, sub := range val {
			val[i] = normalizeValue(sub)
		}
		return val
	default:
		return v
	}
}

// Lookup returns the value at a dotted property path, or nil if any segment
// is missing.
func (d Document) Lookup(path string) any {
	var cur any = map[string]any(d)
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// Match evaluates p against doc. params supplies BoundEquals values.
// A nil predicate matches every document.
func Match(p Predicate, doc Document, params map[string]any) (bool, error) {
	switch pred := p.(type) {
	case nil:
		return true, nil
	case Equals:
		return equalValues(doc.Lookup(pred.Field), pred.Value), nil
	case *Equals:
		return equalValues(doc.Lookup(pred.Field), pred.Value), nil
	case BoundEquals:
		return matchBound(pred, doc, params)
	case *BoundEquals:
		return matchBound(*pred, doc, params)
	case And:
		return matchAnd(pred, doc, params)
	case *And:
		return matchAnd(*pred, doc, params)
	default:
		return false, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func matchBound(beq BoundEquals, doc Document, params map[string]any) (bool, error) {
	val, ok := params[beq.BoundVar]
	if !ok {
		return false, fmt.Errorf("missing query parameter %q", beq.BoundVar)
	}
	return equalValues(doc.Lookup(beq.Field), val), nil
}

func matchAnd(and And, doc Document, params map[string]any) (bool, error) {
	for _, sub := range and.Predicates {
		ok, err := Match(sub, doc, params)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// equalValues compares a document value with a literal using SQL equality
// on json_extract results: numbers compare numerically, strings exactly,
// and a nil literal matches a null or missing property.
func equalValues(docVal, literal any) bool {
	if literal == nil {
		return docVal == nil
	}
	if s, ok := literal.(string); ok {
		ds, ok := docVal.(string)
		return ok && ds == s
	}
	lf, ok := toFloat(literal)
	if !ok {
		return false
	}
	df, ok := toFloat(docVal)
	return ok && df == lf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
