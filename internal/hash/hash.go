// Package hash provides deterministic, non-cryptographic content hashing
// over a record's semantic fields. The hash exists for cheap equality
// detection during merge tie-breaking, not for security, so speed wins
// over collision resistance.
package hash

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/quillforge/inkwell/internal/models"
)

// Content computes a 64-bit FNV-1a hash over the given semantic fields.
// Keys are processed in sorted order and values are JSON-encoded, so the
// result is stable across map iteration order and process restarts.
// Bookkeeping values (timestamps, revision counters) must not be passed in.
//
// When only is non-empty, the hash covers just the named fields; names not
// present in the map are skipped.
func Content(fields map[string]interface{}, only ...string) (string, error) {
	keys := make([]string, 0, len(fields))
	if len(only) > 0 {
		for _, k := range only {
			if _, ok := fields[k]; ok {
				keys = append(keys, k)
			}
		}
	} else {
		for k := range fields {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		data, err := json.Marshal(fields[k])
		if err != nil {
			return "", fmt.Errorf("hash field %q: %w", k, err)
		}
		// Null separators keep key/value boundaries unambiguous.
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Record hashes the semantic fields of a sync record.
func Record(rec *models.SyncRecord, only ...string) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("hash: nil record")
	}
	return Content(rec.Fields, only...)
}
