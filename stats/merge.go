package stats

import (
	"github.com/ddevcap/viewstats/catalog"
	"github.com/ddevcap/viewstats/store"
	"github.com/ddevcap/viewstats/youtube"
)

// Report lists the descriptors that did not fully succeed in a merge.
type Report struct {
	// Partial keys were summed from a strict subset of their sources.
	Partial []string `json:"partial,omitempty"`
	// Failed keys had no source succeed and kept their previous value.
	Failed []string `json:"failed,omitempty"`
}

// Merge folds per-ID fetch results into one value per descriptor.
//
// A descriptor whose sources all succeeded gets their sum. If only some
// succeeded it gets the sum of those and is reported as partial. If none
// succeeded it keeps its value from prev (0 when prev has none) and is
// reported as failed.
func Merge(cat catalog.Catalog, prev *store.Record, results map[string]youtube.Result) (map[string]int64, Report) {
	data := make(map[string]int64, len(cat.Descriptors))
	var report Report

	for _, d := range cat.Descriptors {
		var sum int64
		ok := 0
		for _, id := range d.SourceIDs {
			if r := results[id]; r.Available {
				sum += r.Views
				ok++
			}
		}

		switch {
		case ok == len(d.SourceIDs):
			data[d.Key] = sum
		case ok > 0:
			data[d.Key] = sum
			report.Partial = append(report.Partial, d.Key)
		default:
			report.Failed = append(report.Failed, d.Key)
			if prev != nil {
				data[d.Key] = prev.Data[d.Key]
			} else {
				data[d.Key] = 0
			}
		}
	}
	return data, report
}
