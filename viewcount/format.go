package viewcount

import (
	"math"
	"sort"
	"strconv"

	"github.com/ddevcap/viewstats/catalog"
)

// Format renders a count the way the site shows it: plain below a thousand,
// one decimal "K" below a million and a truncated one decimal "M" above.
//
//	999       → "999"
//	12345     → "12.3K"
//	1_290_000 → "1.2M"
func Format(views int64) string {
	switch {
	case views <= 0:
		return "0"
	case views >= 1_000_000:
		return strconv.FormatFloat(math.Floor(float64(views)/100_000)/10, 'f', 1, 64) + "M"
	case views >= 1_000:
		return strconv.FormatFloat(float64(views)/1_000, 'f', 1, 64) + "K"
	default:
		return strconv.FormatInt(views, 10)
	}
}

// Order returns the catalog's descriptors in carousel order: pinned
// descriptors first in catalog order, then by views descending. Ties keep
// catalog order.
func Order(c catalog.Catalog, data map[string]int64) []catalog.Descriptor {
	out := make([]catalog.Descriptor, len(c.Descriptors))
	copy(out, c.Descriptors)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.Pinned {
			return false
		}
		return data[a.Key] > data[b.Key]
	})
	return out
}
