package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"hostsgen/pkg/fetch"
	"hostsgen/pkg/history"
	"hostsgen/pkg/manifest"
	"hostsgen/pkg/metrics"
	"hostsgen/pkg/pipeline"
	"hostsgen/pkg/publish"
	"hostsgen/pkg/watch"
	"hostsgen/pkg/whitelist"
)

// addBuildFlags registers the flags shared by build and watch.
func addBuildFlags(fs *pflag.FlagSet) {
	fs.String("manifest", "", "manifest URL or path listing the source blocklists")
	fs.String("output", "", "path of the generated hosts file")
	fs.String("sinkhole", "", "address blocked domains resolve to")
	fs.String("whitelist", "", "whitelist file")
	fs.String("cache-dir", "", "directory for cached source lists")
	fs.Int("workers", 0, "number of concurrent downloads and parsers")
	fs.Bool("incremental", false, "append to the existing output instead of replacing it")
	fs.Bool("no-whitelist", false, "disable whitelist filtering")
	fs.Bool("no-cache", false, "always download sources and do not write the cache")
}

// bindBuildFlags binds the flags of the running command. Binding happens at
// run time because build and watch define flags with the same keys.
func (a *app) bindBuildFlags(fs *pflag.FlagSet) {
	mustBind(a.v, "manifest.location", fs.Lookup("manifest"))
	mustBind(a.v, "output.path", fs.Lookup("output"))
	mustBind(a.v, "output.sinkhole", fs.Lookup("sinkhole"))
	mustBind(a.v, "output.incremental", fs.Lookup("incremental"))
	mustBind(a.v, "whitelist.path", fs.Lookup("whitelist"))
	mustBind(a.v, "cache.dir", fs.Lookup("cache-dir"))
	mustBind(a.v, "fetch.workers", fs.Lookup("workers"))
}

// applyToggles applies the negated switches that have no config key of their
// own.
func (a *app) applyToggles(fs *pflag.FlagSet) {
	if off, _ := fs.GetBool("no-whitelist"); off {
		a.cfg.Whitelist.Enabled = false
	}
	if off, _ := fs.GetBool("no-cache"); off {
		a.cfg.Cache.Enabled = false
	}
}

// builder assembles pipeline runs from the loaded configuration.
type builder struct {
	a       *app
	base    pipeline.Options
	history *history.Store
}

func (a *app) newBuilder() (*builder, error) {
	cfg := a.cfg
	fetcher := fetch.New(fetch.Options{
		CacheDir:  cfg.Cache.Dir,
		MaxAge:    fetch.DaysToDuration(cfg.Cache.MaxAgeDays),
		UseCache:  cfg.Cache.Enabled,
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
		Workers:   cfg.Fetch.Workers,
		Log:       a.log,
	})

	b := &builder{a: a}
	b.base = pipeline.Options{
		ManifestLocation: cfg.Manifest.Location,
		ManifestMaxAge:   fetch.DaysToDuration(cfg.Manifest.MaxAgeDays),
		ExtraSources:     manifest.BuildSources(manifest.Catalog, cfg.Sources),
		Fetcher:          fetcher,
		Output:           cfg.Output.Path,
		Sinkhole:         cfg.Output.Sinkhole,
		Incremental:      cfg.Output.Incremental,
		Workers:          cfg.Fetch.Workers,
		ErrorLimit:       cfg.Logging.ErrorLimit,
		Log:              a.log,
	}

	if cfg.Metrics.Textfile != "" {
		b.base.Metrics = metrics.NewRecorder()
		b.base.MetricsTextfile = cfg.Metrics.Textfile
	}
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		b.history = store
		b.base.History = store
	}
	if cfg.Publish.Enabled {
		b.base.Publisher = publish.NewGit(publish.Options{
			Repo:    cfg.Publish.Repo,
			Remote:  cfg.Publish.Remote,
			Branch:  cfg.Publish.Branch,
			Message: cfg.Publish.Message,
			Log:     a.log,
		})
	}
	return b, nil
}

func (b *builder) close() {
	if b.history != nil {
		if err := b.history.Close(); err != nil {
			b.a.log.Warn("failed to close history", "error", err)
		}
	}
}

// run performs one build. The whitelist is reloaded every time so that edits
// apply to the next run.
func (b *builder) run(ctx context.Context) (pipeline.Summary, error) {
	opts := b.base
	if wl := b.a.cfg.Whitelist; wl.Enabled {
		matcher, err := whitelist.Load(wl.Path, wl.Entries, b.a.log)
		if err != nil {
			return pipeline.Summary{}, err
		}
		opts.Whitelist = matcher
	}
	return pipeline.Run(ctx, opts)
}

// watchPaths returns the local inputs whose changes trigger a rebuild.
func (b *builder) watchPaths() []string {
	var paths []string
	if wl := b.a.cfg.Whitelist; wl.Enabled && wl.Path != "" {
		paths = append(paths, wl.Path)
	}
	if loc := b.a.cfg.Manifest.Location; loc != "" && !strings.Contains(loc, "://") {
		paths = append(paths, loc)
	}
	return paths
}

func printSummary(w io.Writer, output string, s pipeline.Summary) {
	fmt.Fprintf(w, "wrote %d entries to %s (added %d, retracted %d; sources ok %d, failed %d)\n",
		s.Entries, output, s.Added, s.Retracted, s.SourcesOK, s.SourcesFailed)
}

func newBuildCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Fetch all sources and write the hosts file once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.bindBuildFlags(cmd.Flags())
			if err := a.load(false); err != nil {
				return err
			}
			defer a.close()
			a.applyToggles(cmd.Flags())

			b, err := a.newBuilder()
			if err != nil {
				return err
			}
			defer b.close()

			summary, err := b.run(cmd.Context())
			if summary.Written {
				printSummary(cmd.OutOrStdout(), a.cfg.Output.Path, summary)
			}
			return err
		},
	}
	addBuildFlags(cmd.Flags())
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild on an interval and whenever the whitelist or manifest changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.bindBuildFlags(cmd.Flags())
			mustBind(a.v, "watch.interval", cmd.Flags().Lookup("interval"))
			if err := a.load(false); err != nil {
				return err
			}
			defer a.close()
			a.applyToggles(cmd.Flags())

			b, err := a.newBuilder()
			if err != nil {
				return err
			}
			defer b.close()

			out := cmd.OutOrStdout()
			return watch.Run(cmd.Context(), watch.Options{
				Interval: a.cfg.Watch.Interval,
				Paths:    b.watchPaths(),
				Log:      a.log,
			}, func(ctx context.Context) error {
				summary, err := b.run(ctx)
				if summary.Written {
					printSummary(out, a.cfg.Output.Path, summary)
				}
				return err
			})
		},
	}
	addBuildFlags(cmd.Flags())
	cmd.Flags().String("interval", "", "time between scheduled rebuilds, e.g. 6h (0 disables)")
	return cmd
}
