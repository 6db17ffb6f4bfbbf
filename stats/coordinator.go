// Package stats decides when cached view counts are served, refreshed or
// replaced by a fallback.
//
// A Coordinator is created once per process and shared by every consumer.
// It never fails a stats query: when the upstream is unreachable it serves
// the last persisted record, or an all-zero mapping if there is none.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ddevcap/viewstats/catalog"
	"github.com/ddevcap/viewstats/metrics"
	"github.com/ddevcap/viewstats/store"
	"github.com/ddevcap/viewstats/youtube"
)

// Fetcher is the remote statistics client.
type Fetcher interface {
	FetchViewCounts(ctx context.Context, ids []string) (map[string]youtube.Result, error)
}

// Outcome says where the data of a Snapshot came from.
type Outcome string

const (
	OutcomeCached    Outcome = "cached"
	OutcomeRefreshed Outcome = "refreshed"
	// OutcomePartial is a persisted refresh in which some descriptors
	// were partial or failed.
	OutcomePartial Outcome = "partial"
	// OutcomeStale is the previous record served after a batch failure.
	OutcomeStale Outcome = "stale"
	// OutcomeDefault is the all-zero mapping served when there is no
	// record and the batch failed.
	OutcomeDefault Outcome = "default"
)

// Snapshot is the result of a stats query. Data always holds every key
// of the catalog.
type Snapshot struct {
	// LastUpdate is zero for OutcomeDefault.
	LastUpdate time.Time
	Data       map[string]int64
	Outcome    Outcome
	Report
}

// AttemptState is the lifecycle state of a RefreshAttempt.
type AttemptState string

const (
	AttemptIdle      AttemptState = "idle"
	AttemptInFlight  AttemptState = "in-flight"
	AttemptSucceeded AttemptState = "succeeded"
	AttemptFailed    AttemptState = "failed"
)

// Attempt describes the most recent refresh attempt.
type Attempt struct {
	ID         string       `json:"id,omitempty"`
	State      AttemptState `json:"state"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	Outcome    Outcome      `json:"outcome,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Options tune a Coordinator. Zero values select the defaults.
type Options struct {
	// Threshold is the staleness threshold. Default 1h.
	Threshold time.Duration
	// RefreshTimeout bounds one refresh including the upstream call and
	// the save. Default 30s.
	RefreshTimeout time.Duration
	// Now replaces time.Now in tests.
	Now func() time.Time
}

const (
	defaultThreshold      = time.Hour
	defaultRefreshTimeout = 30 * time.Second
	// fallbackTimeout bounds the store read for a caller that stopped
	// waiting on a refresh.
	fallbackTimeout = 2 * time.Second
	flightKey       = "refresh"
)

// Coordinator serves the current best view counts for a catalog.
type Coordinator struct {
	catalog        catalog.Catalog
	store          store.Store
	fetcher        Fetcher
	policy         Policy
	refreshTimeout time.Duration
	now            func() time.Time

	flight singleflight.Group

	mu          sync.Mutex
	attempt     Attempt
	subscribers []func(store.Record)
}

func NewCoordinator(cat catalog.Catalog, st store.Store, f Fetcher, opts Options) *Coordinator {
	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		catalog:        cat,
		store:          st,
		fetcher:        f,
		policy:         Policy{Threshold: opts.Threshold},
		refreshTimeout: opts.RefreshTimeout,
		now:            opts.Now,
		attempt:        Attempt{State: AttemptIdle},
	}
}

// Catalog returns the tracked descriptors.
func (c *Coordinator) Catalog() catalog.Catalog { return c.catalog }

// Stats returns the cached record while it is valid, and otherwise
// refreshes it. Concurrent callers share one refresh. A caller whose ctx
// ends while waiting gets the persisted record (or zeros) instead; the
// refresh itself keeps running for the others.
func (c *Coordinator) Stats(ctx context.Context) Snapshot {
	rec := c.load(ctx)
	if c.policy.IsValid(rec, c.now()) {
		return c.served(c.snapshot(rec, OutcomeCached, Report{}))
	}
	return c.served(c.join(ctx, false))
}

// Refresh fetches new counts even when the record is still valid. It
// joins a refresh that is already running instead of starting another.
func (c *Coordinator) Refresh(ctx context.Context) Snapshot {
	return c.served(c.join(ctx, true))
}

// Peek returns the persisted record without refreshing it.
func (c *Coordinator) Peek(ctx context.Context) (*store.Record, error) {
	return c.store.Load(ctx)
}

// Attempt returns the state of the most recent refresh attempt.
func (c *Coordinator) Attempt() Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// OnRefresh registers fn to be called with every newly persisted record.
// fn runs on the refreshing goroutine and must not block.
func (c *Coordinator) OnRefresh(fn func(store.Record)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

func (c *Coordinator) join(ctx context.Context, force bool) Snapshot {
	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(flightKey, func() (interface{}, error) {
		return c.refresh(detached, force), nil
	})
	select {
	case res := <-ch:
		return cloneSnapshot(res.Val.(Snapshot))
	case <-ctx.Done():
		slog.Debug("stats: caller stopped waiting for refresh", "error", ctx.Err())
		fctx, cancel := context.WithTimeout(detached, fallbackTimeout)
		defer cancel()
		return c.fallback(c.load(fctx))
	}
}

// refresh runs inside the single flight.
func (c *Coordinator) refresh(ctx context.Context, force bool) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	prev := c.load(ctx)
	if !force && c.policy.IsValid(prev, c.now()) {
		// Another flight refreshed the record while this caller was loading.
		return c.snapshot(prev, OutcomeCached, Report{})
	}

	id := uuid.NewString()
	started := c.now()
	c.setAttempt(Attempt{ID: id, State: AttemptInFlight, StartedAt: &started})
	slog.Info("stats: refreshing view counts", "attempt", id, "descriptors", len(c.catalog.Descriptors))

	results, err := c.fetcher.FetchViewCounts(ctx, c.catalog.SourceIDs())
	if err != nil {
		snap := c.fallback(prev)
		slog.Warn("stats: upstream unreachable, serving fallback",
			"attempt", id, "outcome", snap.Outcome, "error", err)
		c.finish(id, started, AttemptFailed, snap.Outcome, err)
		return snap
	}

	data, report := Merge(c.catalog, prev, results)
	rec := store.Record{LastUpdate: c.now().UTC().Truncate(time.Millisecond), Data: data}
	outcome := OutcomeRefreshed
	if len(report.Partial) > 0 || len(report.Failed) > 0 {
		outcome = OutcomePartial
		slog.Warn("stats: refresh incomplete", "attempt", id, "partial", report.Partial, "failed", report.Failed)
	}

	if err := c.store.Save(ctx, rec); err != nil {
		slog.Error("stats: failed to persist record", "attempt", id, "error", err)
		c.finish(id, started, AttemptFailed, outcome, err)
		return c.snapshot(&rec, outcome, report)
	}
	slog.Info("stats: refresh persisted", "attempt", id, "outcome", outcome)
	c.finish(id, started, AttemptSucceeded, outcome, nil)
	c.notify(rec)
	return c.snapshot(&rec, outcome, report)
}

// fallback serves prev unchanged, or zeros when there is no record.
func (c *Coordinator) fallback(prev *store.Record) Snapshot {
	if prev != nil {
		return c.snapshot(prev, OutcomeStale, Report{})
	}
	return Snapshot{Data: c.catalog.Zero(), Outcome: OutcomeDefault}
}

func (c *Coordinator) snapshot(rec *store.Record, outcome Outcome, report Report) Snapshot {
	return Snapshot{
		LastUpdate: rec.LastUpdate,
		Data:       c.catalog.Complete(rec.Data),
		Outcome:    outcome,
		Report:     report,
	}
}

// load returns the persisted record, treating backend errors as absent.
func (c *Coordinator) load(ctx context.Context) *store.Record {
	rec, err := c.store.Load(ctx)
	if err != nil {
		slog.Warn("stats: cache store unavailable", "error", err)
		return nil
	}
	return rec
}

func (c *Coordinator) served(snap Snapshot) Snapshot {
	metrics.Served.WithLabelValues(string(snap.Outcome)).Inc()
	if !snap.LastUpdate.IsZero() {
		metrics.RecordAge.Set(c.now().Sub(snap.LastUpdate).Seconds())
	}
	return snap
}

func (c *Coordinator) setAttempt(a Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = a
}

func (c *Coordinator) finish(id string, started time.Time, state AttemptState, outcome Outcome, err error) {
	finished := c.now()
	a := Attempt{ID: id, State: state, StartedAt: &started, FinishedAt: &finished, Outcome: outcome}
	if err != nil {
		a.Error = err.Error()
	}
	c.setAttempt(a)
	metrics.Refreshes.WithLabelValues(string(outcome)).Inc()
}

func (c *Coordinator) notify(rec store.Record) {
	c.mu.Lock()
	subs := append([]func(store.Record){}, c.subscribers...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(rec.Clone())
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Data = make(map[string]int64, len(s.Data))
	for k, v := range s.Data {
		out.Data[k] = v
	}
	return out
}
