package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ddevcap/viewstats/catalog"
	"github.com/ddevcap/viewstats/config"
	"github.com/ddevcap/viewstats/mirror"
	"github.com/ddevcap/viewstats/static"
	"github.com/ddevcap/viewstats/store"
	"github.com/ddevcap/viewstats/viewcount"
)

type showOptions struct {
	remote  string
	local   string
	offline bool
	watch   bool
	timeout time.Duration
}

// newShowCmd prints the carousel as the site would render it. It never
// needs an API key: the bundled snapshot is always available.
func newShowCmd(cfg func() config.Config) *cobra.Command {
	var opts showOptions

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the videos in carousel order with their view counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(cfg())
			if err != nil {
				return err
			}
			return runShow(cmd.Context(), cmd.OutOrStdout(), cat, opts)
		},
	}

	cmd.Flags().StringVar(&opts.remote, "remote", "http://localhost:3001/api/youtube-stats", "stats endpoint to upgrade from")
	cmd.Flags().StringVar(&opts.local, "local", defaultLocalPath(), "locally persisted snapshot (empty disables it)")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "only use the bundled and local snapshots")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "keep running and re-render on every pushed update")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "how long to wait for the stats endpoint")
	return cmd
}

func runShow(ctx context.Context, out io.Writer, cat catalog.Catalog, opts showOptions) error {
	var (
		local   store.Store
		sources []mirror.Source
	)
	if opts.local != "" {
		fs := store.NewFileStore(opts.local)
		local = fs
		sources = append(sources, mirror.NewStoreSource(fs))
	}
	if !opts.offline && opts.remote != "" {
		remote := mirror.NewRemoteSource(opts.remote, nil)
		defer remote.Close()
		sources = append(sources, remote)
	}

	m := mirror.New(cat, static.Snapshot, local, sources...)

	syncCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	view := m.Sync(syncCtx)
	cancel()
	render(out, cat, view)

	if !opts.watch || opts.offline || opts.remote == "" {
		return nil
	}
	m.OnChange(func(v mirror.View) { render(out, cat, v) })
	m.Watch(ctx, wsURL(opts.remote))
	return nil
}

func render(out io.Writer, cat catalog.Catalog, view mirror.View) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Title", "Views", "Link"})
	for i, d := range viewcount.Order(cat, view.Record.Data) {
		title := d.DisplayTitle
		if d.Pinned {
			title += " *"
		}
		t.AppendRow(table.Row{i + 1, title, viewcount.Format(view.Record.Data[d.Key]), d.WatchURL()})
	}
	updated := "never"
	if !view.Record.LastUpdate.IsZero() {
		updated = view.Record.LastUpdate.Local().Format(time.DateTime)
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("source: %s", view.Source), "", "updated " + updated})
	t.Render()
}

// wsURL turns the stats endpoint into its websocket feed URL.
func wsURL(statsURL string) string {
	if rest, ok := strings.CutPrefix(statsURL, "https://"); ok {
		return "wss://" + rest + "/ws"
	}
	if rest, ok := strings.CutPrefix(statsURL, "http://"); ok {
		return "ws://" + rest + "/ws"
	}
	return statsURL + "/ws"
}

func defaultLocalPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "viewstats", "snapshot.json")
}
