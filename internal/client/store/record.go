// Package store owns the on-disk record directory. Every record mutation in
// the agent goes through it: captures, sync ingest, pins, edits, removals
// and silent eviction.
package store

import (
	"fmt"
	"strings"
	"time"
)

// Record is one clipboard entry as persisted on disk. Field names are part
// of the cross-device format and must not change; in particular "pined" is
// the historical spelling every device already understands.
type Record struct {
	Data   string `json:"data"`
	Typ    string `json:"typ"`
	Device string `json:"device"`
	Pined  bool   `json:"pined"`
}

// IsImage reports whether the record payload is a base64-encoded image.
func (r Record) IsImage() bool {
	return strings.HasPrefix(r.Typ, "image/")
}

// IDLayout formats wall-clock time so lexicographic order equals
// chronological order, at second resolution.
const IDLayout = "20060102150405"

// NewID derives a record id from t. Two captures within the same second get
// a zero-padded counter suffix; '_' sorts above the digits, so suffixed ids
// still order after the bare id and before the next second.
func NewID(t time.Time, taken func(string) bool) string {
	id := t.UTC().Format(IDLayout)
	if !taken(id) {
		return id
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%03d", id, i)
		if !taken(candidate) {
			return candidate
		}
	}
}
