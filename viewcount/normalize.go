// Package viewcount turns the loosely-shaped view-count payloads seen in
// the wild into flat key → count mappings, and formats counts for display.
//
// Every decoder in the repo goes through this package: upstream statistics
// objects, persisted cache files (current and legacy layout), the bundled
// snapshot and responses of the stats endpoint.
package viewcount

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotObject is returned when a payload is not a JSON object.
	ErrNotObject = errors.New("viewcount: payload is not a JSON object")
	// ErrNoEnvelope is returned by DecodeRecord for a payload that has
	// neither a data member nor a timestamped views object.
	ErrNoEnvelope = errors.New("viewcount: payload has no data envelope")
	// ErrBadEnvelope is returned when the data member is not an object.
	ErrBadEnvelope = errors.New("viewcount: malformed data envelope")
)

// countFields are the keys, in priority order, under which a nested object
// may carry its count. "statistics" covers raw Data API items.
var countFields = []string{"viewCount", "views", "statistics"}

// timestampFields are the envelope keys that may carry the snapshot time.
var timestampFields = []string{"lastUpdate", "lastUpdated"}

// maxDepth bounds recursion into nested count objects.
const maxDepth = 3

// Payload is a normalized snapshot.
type Payload struct {
	// LastUpdate is zero when the payload carried no parseable timestamp.
	LastUpdate time.Time
	Data       map[string]int64
	// Dropped lists keys whose values could not be normalized, sorted.
	Dropped []string
}

// Count extracts a non-negative integer view count from one decoded JSON
// value. Accepted shapes: a number, a numeric string, or an object with
// the count under viewCount, views or statistics (nested up to three levels).
func Count(v interface{}) (int64, bool) {
	return count(v, 0)
}

func count(v interface{}, depth int) (int64, bool) {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return nonNegative(n)
		}
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return fromFloat(f)
	case float64:
		return fromFloat(val)
	case int64:
		return nonNegative(val)
	case int:
		return nonNegative(int64(val))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, false
		}
		return nonNegative(n)
	case map[string]interface{}:
		if depth >= maxDepth {
			return 0, false
		}
		for _, f := range countFields {
			if child, ok := val[f]; ok {
				return count(child, depth+1)
			}
		}
	}
	return 0, false
}

func nonNegative(n int64) (int64, bool) {
	if n < 0 {
		return 0, false
	}
	return n, true
}

func fromFloat(f float64) (int64, bool) {
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// CountJSON is Count for a raw JSON value.
func CountJSON(raw []byte) (int64, bool) {
	v, err := decode(raw)
	if err != nil {
		return 0, false
	}
	return Count(v)
}

// Decode normalizes a payload into a flat mapping. Accepted layouts:
//
//	{"lastUpdate": "...", "data": {...}}      persisted record
//	{"lastUpdated": "...", "views": {...}}    legacy bundled snapshot
//	{"key": 123, "other": {"viewCount": "4"}} flat mapping
//
// Entries that cannot be normalized are dropped and reported in Dropped
// rather than failing the whole payload. A data member that is not an
// object fails with ErrBadEnvelope.
func Decode(raw []byte) (Payload, error) {
	top, err := object(raw)
	if err != nil {
		return Payload{}, err
	}
	ts, _ := timestamp(top)
	entries, err := envelope(top)
	if errors.Is(err, ErrNoEnvelope) {
		entries = flatten(top)
	} else if err != nil {
		return Payload{}, err
	}
	return normalize(entries, ts), nil
}

// DecodeRecord is Decode restricted to the two envelope layouts. A flat
// mapping, or an envelope whose entries are not an object, is rejected.
func DecodeRecord(raw []byte) (Payload, error) {
	top, err := object(raw)
	if err != nil {
		return Payload{}, err
	}
	ts, _ := timestamp(top)
	entries, err := envelope(top)
	if err != nil {
		return Payload{}, err
	}
	return normalize(entries, ts), nil
}

func object(raw []byte) (map[string]interface{}, error) {
	v, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("viewcount: %w", err)
	}
	top, ok := v.(map[string]interface{})
	if !ok {
		return nil, ErrNotObject
	}
	return top, nil
}

func normalize(entries map[string]interface{}, ts time.Time) Payload {
	p := Payload{LastUpdate: ts, Data: make(map[string]int64, len(entries))}
	for k, child := range entries {
		n, ok := Count(child)
		if !ok {
			p.Dropped = append(p.Dropped, k)
			continue
		}
		p.Data[k] = n
	}
	sort.Strings(p.Dropped)
	return p
}

// envelope returns the entry object of a {data} or timestamped {views}
// envelope. ErrNoEnvelope means top is not an envelope at all.
func envelope(top map[string]interface{}) (map[string]interface{}, error) {
	if v, ok := top["data"]; ok {
		data, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: data is %T", ErrBadEnvelope, v)
		}
		return data, nil
	}
	if _, hasTS := timestamp(top); hasTS {
		if views, ok := top["views"].(map[string]interface{}); ok {
			return views, nil
		}
	}
	return nil, ErrNoEnvelope
}

// flatten returns top minus its timestamp keys.
func flatten(top map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{}, len(top))
	for k, v := range top {
		if isTimestampField(k) {
			continue
		}
		flat[k] = v
	}
	return flat
}

func timestamp(top map[string]interface{}) (time.Time, bool) {
	for _, f := range timestampFields {
		s, ok := top[f].(string)
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			continue
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

func isTimestampField(k string) bool {
	for _, f := range timestampFields {
		if k == f {
			return true
		}
	}
	return false
}

func decode(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
