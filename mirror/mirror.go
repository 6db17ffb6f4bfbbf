// Package mirror keeps a consumer-side copy of the view counts.
//
// A Mirror answers synchronously from the snapshot bundled at build time,
// then upgrades in the background from the other sources (a locally
// persisted snapshot, the stats service, its websocket feed). The freshest
// snapshot by lastUpdate wins. Failures are logged and never surface to
// the caller: there is always something to show.
package mirror

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/ddevcap/viewstats/catalog"
	"github.com/ddevcap/viewstats/store"
)

// View is what the mirror currently shows.
type View struct {
	Record store.Record
	// Source names where Record came from.
	Source string
}

// Mirror holds the best snapshot seen so far.
type Mirror struct {
	catalog catalog.Catalog
	sources []Source
	// local persists snapshots adopted from the stats service. May be nil.
	local store.Store

	mu        sync.RWMutex
	current   View
	listeners []func(View)
}

// New returns a mirror showing the bundled snapshot. sources are consulted
// in order by Sync. local, when non-nil, receives every snapshot adopted
// from a source other than itself.
func New(cat catalog.Catalog, bundled []byte, local store.Store, sources ...Source) *Mirror {
	m := &Mirror{catalog: cat, sources: sources, local: local}

	rec, err := NewBundledSource(bundled).Fetch(context.Background())
	if err != nil {
		slog.Warn("mirror: bundled snapshot unusable, starting from zeros", "error", err)
		rec = &store.Record{}
	}
	m.current = View{Record: m.complete(*rec), Source: "bundled"}
	return m
}

// Current returns the snapshot currently shown. It never blocks on I/O.
func (m *Mirror) Current() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := m.current
	v.Record = v.Record.Clone()
	return v
}

// OnChange registers fn to be called after every adoption.
func (m *Mirror) OnChange(fn func(View)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start runs Sync in the background.
func (m *Mirror) Start(ctx context.Context) {
	go m.Sync(ctx)
}

// Sync consults every source once, in order. A snapshot newer than the one
// shown is adopted; an authoritative source's answer is adopted regardless.
// It returns what is shown afterwards.
func (m *Mirror) Sync(ctx context.Context) View {
	for _, src := range m.sources {
		if ctx.Err() != nil {
			break
		}
		rec, err := src.Fetch(ctx)
		if err != nil {
			slog.Debug("mirror: source unavailable", "source", src.Name(), "error", err)
			continue
		}
		if rec == nil {
			continue
		}
		if a, ok := src.(authoritative); ok && a.Authoritative() {
			m.adopt(ctx, *rec, src.Name(), false)
			continue
		}
		m.Offer(ctx, *rec, src.Name())
	}
	return m.Current()
}

// Offer adopts rec when it is newer than the snapshot shown and persists
// it locally unless it came from the local store. It reports whether rec
// was adopted.
func (m *Mirror) Offer(ctx context.Context, rec store.Record, source string) bool {
	return m.adopt(ctx, rec, source, true)
}

func (m *Mirror) adopt(ctx context.Context, rec store.Record, source string, newerOnly bool) bool {
	rec = m.complete(rec)

	m.mu.Lock()
	cur := m.current.Record
	switch {
	case newerOnly && !rec.LastUpdate.After(cur.LastUpdate):
		m.mu.Unlock()
		return false
	case rec.LastUpdate.Equal(cur.LastUpdate) && maps.Equal(rec.Data, cur.Data):
		// Already shown, e.g. a reused remote answer.
		m.mu.Unlock()
		return false
	}
	m.current = View{Record: rec, Source: source}
	listeners := append([]func(View){}, m.listeners...)
	m.mu.Unlock()

	slog.Debug("mirror: adopted snapshot", "source", source, "last_update", rec.LastUpdate)
	if m.local != nil && source != "local" {
		if err := m.local.Save(ctx, rec); err != nil {
			slog.Warn("mirror: failed to persist snapshot", "error", err)
		}
	}
	for _, fn := range listeners {
		fn(View{Record: rec.Clone(), Source: source})
	}
	return true
}

func (m *Mirror) complete(rec store.Record) store.Record {
	return store.Record{LastUpdate: rec.LastUpdate, Data: m.catalog.Complete(rec.Data)}
}
