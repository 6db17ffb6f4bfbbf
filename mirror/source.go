package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/ddevcap/viewstats/store"
	"github.com/ddevcap/viewstats/viewcount"
)

// Source is one place a snapshot can come from. Fetch returns nil when the
// source has nothing to offer.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*store.Record, error)
}

// authoritative is implemented by sources whose answer replaces the
// snapshot shown whatever its lastUpdate.
type authoritative interface {
	Authoritative() bool
}

// BundledSource decodes a snapshot baked into the binary.
type BundledSource struct {
	raw []byte
}

func NewBundledSource(raw []byte) *BundledSource {
	return &BundledSource{raw: raw}
}

func (s *BundledSource) Name() string { return "bundled" }

func (s *BundledSource) Fetch(_ context.Context) (*store.Record, error) {
	rec, err := store.Decode(s.raw)
	if err != nil {
		return nil, fmt.Errorf("mirror: bundled snapshot: %w", err)
	}
	return rec, nil
}

// StoreSource reads a locally persisted snapshot.
type StoreSource struct {
	store store.Store
}

func NewStoreSource(st store.Store) *StoreSource {
	return &StoreSource{store: st}
}

func (s *StoreSource) Name() string { return "local" }

func (s *StoreSource) Fetch(ctx context.Context) (*store.Record, error) {
	return s.store.Load(ctx)
}

const (
	// remoteReuse is how long a successful remote answer is reused
	// instead of asking the stats service again.
	remoteReuse = time.Minute
	// remoteTimeout bounds one request to the stats service.
	remoteTimeout = 10 * time.Second
	maxRemoteBody = 1 << 20
)

// RemoteSource asks the stats service. Its answer is a flat mapping, so
// the result is stamped with the time it was received.
type RemoteSource struct {
	url    string
	client *http.Client
	now    func() time.Time
	cache  *ttlcache.Cache[string, store.Record]
}

// NewRemoteSource returns a source for the stats endpoint at url. client
// may be nil. Call Close when done.
func NewRemoteSource(url string, client *http.Client) *RemoteSource {
	if client == nil {
		client = &http.Client{Timeout: remoteTimeout}
	}
	cache := ttlcache.New[string, store.Record](
		ttlcache.WithTTL[string, store.Record](remoteReuse),
		ttlcache.WithDisableTouchOnHit[string, store.Record](),
	)
	go cache.Start() // starts the automatic expired-item eviction loop
	return &RemoteSource{url: url, client: client, now: time.Now, cache: cache}
}

func (s *RemoteSource) Name() string { return "remote" }

// Authoritative reports true. The answer carries a receive-time stamp,
// not the service's, so it is never compared by lastUpdate.
func (s *RemoteSource) Authoritative() bool { return true }

func (s *RemoteSource) Fetch(ctx context.Context) (*store.Record, error) {
	if item := s.cache.Get(s.url); item != nil {
		rec := item.Value().Clone()
		return &rec, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("mirror: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror: requesting stats: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mirror: stats service answered %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return nil, fmt.Errorf("mirror: reading stats: %w", err)
	}

	p, err := viewcount.Decode(raw)
	if err != nil {
		return nil, err
	}
	stamp := p.LastUpdate
	if stamp.IsZero() {
		stamp = s.now().UTC().Truncate(time.Millisecond)
	}
	rec := store.Record{LastUpdate: stamp, Data: p.Data}
	s.cache.Set(s.url, rec.Clone(), ttlcache.DefaultTTL)
	return &rec, nil
}

// Close stops the reuse cache.
func (s *RemoteSource) Close() {
	s.cache.Stop()
}
