package stats_test

import (
	"context"
	"sync"

	"github.com/ddevcap/viewstats/catalog"
	"github.com/ddevcap/viewstats/youtube"
)

// fakeFetcher records calls and answers with fixed results.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	ids     []string
	results map[string]youtube.Result
	err     error
	// gate, when set, blocks every call until closed or ctx ends.
	gate chan struct{}
}

func (f *fakeFetcher) FetchViewCounts(ctx context.Context, ids []string) (map[string]youtube.Result, error) {
	f.mu.Lock()
	f.calls++
	f.ids = ids
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &youtube.BatchError{Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]youtube.Result, len(ids))
	for _, id := range ids {
		out[id] = f.results[id]
	}
	return out, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok(n int64) youtube.Result { return youtube.Result{Views: n, Available: true} }

func twoVideos() catalog.Catalog {
	return catalog.Catalog{Descriptors: []catalog.Descriptor{
		{Key: "A", SourceIDs: []string{"a"}},
		{Key: "B", SourceIDs: []string{"b"}},
	}}
}
