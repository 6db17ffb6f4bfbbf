package stats

import (
	"time"

	"github.com/ddevcap/viewstats/store"
)

// IsValid reports whether rec is present and younger than threshold at now.
func IsValid(rec *store.Record, now time.Time, threshold time.Duration) bool {
	return rec != nil && now.Sub(rec.LastUpdate) < threshold
}

// Policy is a fixed staleness threshold. The stats server uses a short
// one, the bundled snapshot job a long one.
type Policy struct {
	Threshold time.Duration
}

func (p Policy) IsValid(rec *store.Record, now time.Time) bool {
	return IsValid(rec, now, p.Threshold)
}
