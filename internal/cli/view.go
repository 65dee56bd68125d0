package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/docstore/internal/keystore"
)

// RecordView is the printable form of a record.
type RecordView struct {
	Key        string `json:"key"`
	Sequence   uint64 `json:"sequence"`
	Version    string `json:"version,omitempty"`
	Flags      string `json:"flags"`
	Deleted    bool   `json:"deleted"`
	Expiration int64  `json:"expiration,omitempty"`
	BodySize   int64  `json:"body_size"`
	Body       any    `json:"body,omitempty"` // decoded JSON, or the raw string
}

func newRecordView(rec keystore.Record) RecordView {
	v := RecordView{
		Key:        string(rec.Key),
		Sequence:   uint64(rec.Sequence),
		Version:    string(rec.Version),
		Flags:      rec.Flags.String(),
		Deleted:    rec.Deleted(),
		Expiration: int64(rec.Expiration),
		BodySize:   rec.BodySize,
	}
	if len(rec.Body) > 0 {
		if json.Valid(rec.Body) {
			v.Body = json.RawMessage(rec.Body)
		} else {
			v.Body = string(rec.Body)
		}
	}
	return v
}

func (v RecordView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s seq=%d flags=%s", v.Key, v.Sequence, v.Flags)
	if v.Version != "" {
		fmt.Fprintf(&b, " version=%s", v.Version)
	}
	if v.Expiration > 0 {
		fmt.Fprintf(&b, " expires=%s", keystore.Expiration(v.Expiration).Time().UTC().Format(time.RFC3339))
	}
	switch body := v.Body.(type) {
	case json.RawMessage:
		fmt.Fprintf(&b, " body=%s", body)
	case string:
		fmt.Fprintf(&b, " body=%q", body)
	}
	return b.String()
}

// RecordList is the printable form of an enumeration.
type RecordList struct {
	Records []RecordView `json:"records"`
	Count   int          `json:"count"`
}

func (l RecordList) String() string {
	var b strings.Builder
	for _, r := range l.Records {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "(%d records)", l.Count)
	return b.String()
}

// WriteResult reports the outcome of a mutation.
type WriteResult struct {
	Key      string `json:"key,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"`
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
}

func (w WriteResult) String() string {
	return w.Message
}

// CountResult reports a number.
type CountResult struct {
	Count uint64   `json:"count"`
	Keys  []string `json:"keys,omitempty"`
}

func (c CountResult) String() string {
	if len(c.Keys) == 0 {
		return fmt.Sprint(c.Count)
	}
	return fmt.Sprintf("%d: %s", c.Count, strings.Join(c.Keys, ", "))
}
