// Package static embeds the assets bundled with the frontend and the tools.
package static

import _ "embed"

// Snapshot is the build-time view-count snapshot shipped with the site. It
// is regenerated by `viewcounts snapshot` and read without any network I/O,
// so first render never waits on the stats service.
//
//go:embed snapshot.json
var Snapshot []byte

// Catalog is the default set of tracked videos, used when CATALOG_FILE is unset.
//
//go:embed catalog.yaml
var Catalog []byte
