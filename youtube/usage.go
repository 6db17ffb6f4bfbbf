package youtube

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// dailyRetention is how long a per-day call counter is kept after its last
// increment.
const dailyRetention = 7 * 24 * time.Hour

// UsageTracker counts calls made against the API quota. The stats service
// exposes it on /api/monitor so operators can see how close a day is to
// the Data API quota.
type UsageTracker struct {
	mu       sync.Mutex
	total    int64
	failed   int64
	lastCall time.Time
	lastErr  string
	daily    *ttlcache.Cache[string, int64] // keyed by UTC date, YYYY-MM-DD
}

// Usage is a snapshot of the tracker for the monitor endpoint.
type Usage struct {
	TotalCalls  int64            `json:"totalApiCalls"`
	FailedCalls int64            `json:"failedApiCalls"`
	LastCall    *time.Time       `json:"lastApiCall"`
	LastError   string           `json:"lastError,omitempty"`
	DailyCounts map[string]int64 `json:"dailyCounts"`
}

// NewUsageTracker creates a tracker and starts the expiry loop of its
// per-day counters. Call Stop on shutdown.
func NewUsageTracker() *UsageTracker {
	daily := ttlcache.New[string, int64](
		ttlcache.WithTTL[string, int64](dailyRetention),
	)
	go daily.Start() // starts the automatic expired-item eviction loop
	return &UsageTracker{daily: daily}
}

// Record counts one API call made at the given time.
func (u *UsageTracker) Record(at time.Time, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.total++
	u.lastCall = at
	if err != nil {
		u.failed++
		u.lastErr = err.Error()
	} else {
		u.lastErr = ""
	}

	day := at.UTC().Format(time.DateOnly)
	var n int64
	if item := u.daily.Get(day); item != nil {
		n = item.Value()
	}
	u.daily.Set(day, n+1, ttlcache.DefaultTTL)
}

// Snapshot returns the current counters.
func (u *UsageTracker) Snapshot() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := Usage{
		TotalCalls:  u.total,
		FailedCalls: u.failed,
		LastError:   u.lastErr,
		DailyCounts: make(map[string]int64),
	}
	if !u.lastCall.IsZero() {
		t := u.lastCall
		out.LastCall = &t
	}
	for day, item := range u.daily.Items() {
		if item.IsExpired() {
			continue
		}
		out.DailyCounts[day] = item.Value()
	}
	return out
}

// Stop halts the expiry loop.
func (u *UsageTracker) Stop() {
	u.daily.Stop()
}
