// Package store persists the single view-count record shared by every
// process that serves or regenerates stats.
//
// A backend holds at most one record. Load reports a missing or unreadable
// record as (nil, nil) so callers treat it exactly like an empty cache; an
// error is only returned when the backend itself cannot be reached.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/ddevcap/viewstats/viewcount"
)

// ErrUnsupportedBackend is returned by Open for an unknown URL scheme.
var ErrUnsupportedBackend = errors.New("store: unsupported backend")

// timeLayout is the persisted timestamp format. Always written in UTC, so
// the instant survives a round trip to the nanosecond.
const timeLayout = time.RFC3339Nano

// Record is the persisted cache content.
type Record struct {
	LastUpdate time.Time
	Data       map[string]int64
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	return Record{LastUpdate: r.LastUpdate, Data: maps.Clone(r.Data)}
}

type wireRecord struct {
	LastUpdate string           `json:"lastUpdate"`
	Data       map[string]int64 `json:"data"`
}

// MarshalJSON writes {"lastUpdate": "...", "data": {...}}.
func (r Record) MarshalJSON() ([]byte, error) {
	data := r.Data
	if data == nil {
		data = map[string]int64{}
	}
	return json.Marshal(wireRecord{
		LastUpdate: r.LastUpdate.UTC().Format(timeLayout),
		Data:       data,
	})
}

// Decode parses a persisted record. The legacy {lastUpdated, views} layout
// is accepted; a flat mapping, a data member that is not an object or a
// record without a readable timestamp is rejected.
func Decode(raw []byte) (*Record, error) {
	p, err := viewcount.DecodeRecord(raw)
	if err != nil {
		return nil, err
	}
	if p.LastUpdate.IsZero() {
		return nil, errors.New("store: record has no lastUpdate")
	}
	return &Record{LastUpdate: p.LastUpdate, Data: p.Data}, nil
}

// Store is a persistent cache backend.
type Store interface {
	// Load returns the persisted record, or nil when none is usable.
	Load(ctx context.Context) (*Record, error)
	// Save replaces the persisted record. A reader never observes a
	// partially written record. LastUpdate is kept to the nanosecond; a
	// later Load returns the same instant in UTC.
	Save(ctx context.Context, rec Record) error
	Close() error
}

// Open returns the backend selected by rawURL:
//
//	file://youtube-cache.json   JSON file (a bare path works too)
//	sqlite://stats.db           SQLite database
//	postgres://user@host/db     PostgreSQL database
//	redis://host:6379/0         Redis key
func Open(ctx context.Context, rawURL string) (Store, error) {
	scheme, rest, found := strings.Cut(rawURL, "://")
	if !found {
		return NewFileStore(rawURL), nil
	}
	switch strings.ToLower(scheme) {
	case "file":
		return NewFileStore(rest), nil
	case "sqlite", "sqlite3":
		return OpenSQL(ctx, DialectSQLite, rest)
	case "postgres", "postgresql":
		return OpenSQL(ctx, DialectPostgres, rawURL)
	case "redis", "rediss":
		return OpenRedis(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, scheme)
	}
}
