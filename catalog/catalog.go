// Package catalog describes the fixed set of videos whose view counts are
// tracked. A descriptor is identified by its stable key; display titles are
// mutable and may collide, so they never appear in cached data.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ddevcap/viewstats/static"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("catalog: invalid")

// Descriptor is one tracked release. Its total is the sum of the view counts
// of all SourceIDs (a release re-uploaded under several upstream IDs).
type Descriptor struct {
	Key          string   `yaml:"key" json:"key"`
	DisplayTitle string   `yaml:"title" json:"title"`
	SourceIDs    []string `yaml:"sourceIds" json:"sourceIds"`
	// Pinned descriptors are listed first, in catalog order, regardless of views.
	Pinned bool `yaml:"pinned" json:"pinned"`
}

// Canonical returns the upstream ID used for single-target actions such as
// "open this video".
func (d Descriptor) Canonical() string {
	if len(d.SourceIDs) == 0 {
		return ""
	}
	return d.SourceIDs[0]
}

// WatchURL is the outbound link for the descriptor's canonical upload.
func (d Descriptor) WatchURL() string {
	if d.Canonical() == "" {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(d.Canonical())
}

// Catalog is an ordered list of descriptors.
type Catalog struct {
	Descriptors []Descriptor `yaml:"videos"`
}

// Keys returns descriptor keys in catalog order.
func (c Catalog) Keys() []string {
	keys := make([]string, len(c.Descriptors))
	for i, d := range c.Descriptors {
		keys[i] = d.Key
	}
	return keys
}

// SourceIDs returns every upstream ID referenced by the catalog, in order of
// first appearance and without duplicates.
func (c Catalog) SourceIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, d := range c.Descriptors {
		for _, id := range d.SourceIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Lookup returns the descriptor with the given key.
func (c Catalog) Lookup(key string) (Descriptor, bool) {
	for _, d := range c.Descriptors {
		if d.Key == key {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Zero returns a mapping with every key set to 0.
func (c Catalog) Zero() map[string]int64 {
	m := make(map[string]int64, len(c.Descriptors))
	for _, d := range c.Descriptors {
		m[d.Key] = 0
	}
	return m
}

// Complete projects data onto the catalog: every tracked key is present
// (missing ones are 0) and keys no longer tracked are dropped.
func (c Catalog) Complete(data map[string]int64) map[string]int64 {
	m := c.Zero()
	for k := range m {
		if v, ok := data[k]; ok && v > 0 {
			m[k] = v
		}
	}
	return m
}

// Validate checks that the catalog is non-empty and keys are unique and
// non-empty. Every descriptor needs at least one source ID, none empty or
// repeated.
func (c Catalog) Validate() error {
	if len(c.Descriptors) == 0 {
		return fmt.Errorf("%w: no videos configured", ErrInvalid)
	}
	keys := make(map[string]bool, len(c.Descriptors))
	for i, d := range c.Descriptors {
		if strings.TrimSpace(d.Key) == "" {
			return fmt.Errorf("%w: video %d has no key", ErrInvalid, i)
		}
		if keys[d.Key] {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalid, d.Key)
		}
		keys[d.Key] = true
		if len(d.SourceIDs) == 0 {
			return fmt.Errorf("%w: %q has no sourceIds", ErrInvalid, d.Key)
		}
		seen := make(map[string]bool, len(d.SourceIDs))
		for _, id := range d.SourceIDs {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%w: %q has an empty sourceId", ErrInvalid, d.Key)
			}
			if seen[id] {
				return fmt.Errorf("%w: %q lists sourceId %q twice", ErrInvalid, d.Key, id)
			}
			seen[id] = true
		}
	}
	return nil
}

// Parse decodes and validates a YAML catalog.
func Parse(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Parse(static.Catalog)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: %w", err)
	}
	return Parse(b)
}

// Default returns the embedded catalog. It panics if the embedded file is
// invalid, which can only happen at build time.
func Default() Catalog {
	c, err := Parse(static.Catalog)
	if err != nil {
		panic(err)
	}
	return c
}
