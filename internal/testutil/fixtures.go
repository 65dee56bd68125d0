package testutil

import (
	"encoding/json"
	"fmt"
)

// Key returns a zero-padded document key, so lexical order matches numeric
// order: Key(7) == "doc-0007".
func Key(i int) []byte {
	return []byte(fmt.Sprintf("doc-%04d", i))
}

// Body encodes fields as a JSON document body. It panics on values that
// cannot be encoded, which is a bug in the test.
func Body(fields map[string]any) []byte {
	b, err := json.Marshal(fields)
	if err != nil {
		panic(fmt.Sprintf("testutil.Body: %v", err))
	}
	return b
}
