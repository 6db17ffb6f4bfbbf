package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddevcap/viewstats/config"
	"github.com/ddevcap/viewstats/stats"
	"github.com/ddevcap/viewstats/store"
	"github.com/ddevcap/viewstats/youtube"
)

// errNoSnapshot is returned when the upstream is unreachable and there is
// no previous snapshot to keep.
var errNoSnapshot = errors.New("no snapshot: upstream unreachable and nothing to fall back to")

// newSnapshotCmd regenerates the bundled snapshot once it is older than
// SNAPSHOT_STALE_AFTER. It needs an API key.
func newSnapshotCmd(cfg func() config.Config) *cobra.Command {
	var (
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Regenerate the bundled view-count snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if err := c.RequireCredential(); err != nil {
				return err
			}
			cat, err := loadCatalog(c)
			if err != nil {
				return err
			}
			usage := youtube.NewUsageTracker()
			defer usage.Stop()
			client, err := youtube.NewClient(c, usage)
			if err != nil {
				return err
			}

			coord := stats.NewCoordinator(cat, store.NewFileStore(out), client, stats.Options{
				Threshold:      c.SnapshotStaleAfter,
				RefreshTimeout: c.RefreshTimeout,
			})
			var snap stats.Snapshot
			if force {
				snap = coord.Refresh(cmd.Context())
			} else {
				snap = coord.Stats(cmd.Context())
			}

			switch snap.Outcome {
			case stats.OutcomeDefault:
				return errNoSnapshot
			case stats.OutcomeStale:
				fmt.Fprintf(cmd.OutOrStdout(), "upstream unreachable, kept snapshot from %s\n", snap.LastUpdate.Format(time.RFC3339))
			case stats.OutcomeCached:
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot from %s is still fresh\n", snap.LastUpdate.Format(time.RFC3339))
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d videos, %d API calls)\n",
					out, snap.Outcome, len(snap.Data), usage.Snapshot().TotalCalls)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "static/snapshot.json", "snapshot file to regenerate")
	cmd.Flags().BoolVar(&force, "force", false, "refresh even if the snapshot is still fresh")
	return cmd
}
