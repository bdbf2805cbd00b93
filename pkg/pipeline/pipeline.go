// Package pipeline runs one build: resolve sources, fetch, merge, reconcile
// with the published file, write and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hostsgen/pkg/aggregate"
	"hostsgen/pkg/fetch"
	"hostsgen/pkg/history"
	"hostsgen/pkg/hostsfile"
	"hostsgen/pkg/manifest"
	"hostsgen/pkg/metrics"
	"hostsgen/pkg/whitelist"
)

// ErrEmptyResult is returned when a run produces no entries. Nothing is
// written, since an empty hosts file would lift all blocking.
var ErrEmptyResult = errors.New("no entries to write")

// Fetcher retrieves the manifest and the sources it lists.
type Fetcher interface {
	FetchManifest(ctx context.Context, location string, maxAge time.Duration) ([]byte, error)
	FetchAll(ctx context.Context, sources []manifest.Source) []fetch.Result
}

// Publisher ships a written artifact somewhere else.
type Publisher interface {
	Publish(ctx context.Context, artifact string, entries int) error
}

// HistoryRecorder stores a summary of each run.
type HistoryRecorder interface {
	Record(ctx context.Context, run history.Run) (int64, error)
}

// Options configures a run.
type Options struct {
	ManifestLocation string
	ManifestMaxAge   time.Duration
	// ExtraSources are appended to the manifest; manifest labels win.
	ExtraSources []manifest.Source

	Fetcher   Fetcher
	Whitelist *whitelist.Matcher

	Output      string
	Sinkhole    string
	Incremental bool

	Workers    int
	ErrorLimit int

	Metrics         *metrics.Recorder
	MetricsTextfile string
	History         HistoryRecorder
	Publisher       Publisher

	Progress func(aggregate.Event)
	Log      *slog.Logger
	Now      func() time.Time
}

// Summary describes the outcome of a run.
type Summary struct {
	Sources       int
	SourcesOK     int
	SourcesFailed int
	Entries       int
	Added         int
	Retracted     int
	Written       bool
	Report        aggregate.Report
}

// Mode names the run mode for logs and history.
func (o Options) Mode() string {
	if o.Incremental {
		return "incremental"
	}
	return "full"
}

// Run performs one build. Total failures (unreadable manifest, no readable
// source, empty result, write failure) return an error and leave the output
// untouched. A publish failure is returned after the output has been written;
// Summary.Written reports whether that happened.
func Run(ctx context.Context, opts Options) (Summary, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Fetcher == nil {
		return Summary{}, errors.New("pipeline: no fetcher configured")
	}
	if opts.Output == "" {
		return Summary{}, errors.New("pipeline: no output path configured")
	}

	started := now()
	var summary Summary

	sources, err := ResolveSources(ctx, opts)
	if err != nil {
		return summary, err
	}
	summary.Sources = len(sources)
	log.Info("resolved sources", "count", len(sources), "mode", opts.Mode())

	results := opts.Fetcher.FetchAll(ctx, sources)
	inputs := make([]aggregate.SourceInput, len(results))
	for i, res := range results {
		inputs[i] = aggregate.SourceInput{Source: res.Source, Content: res.Content, Err: res.Err}
	}

	progress := opts.Progress
	if progress == nil {
		progress = func(e aggregate.Event) {
			log.Debug("merge progress", "list", e.Label, "done", e.Done, "total", e.Total)
		}
	}
	current, report, err := aggregate.Merge(ctx, inputs, aggregate.MergeOptions{
		Whitelist:  opts.Whitelist,
		Workers:    opts.Workers,
		ErrorLimit: opts.ErrorLimit,
		Log:        log,
		Progress:   progress,
	})
	summary.Report = report
	summary.SourcesOK = report.Readable
	summary.SourcesFailed = report.Failed
	if err != nil {
		return summary, err
	}

	final := current
	summary.Added = current.Len()
	if opts.Incremental {
		previous, err := hostsfile.ReadPublished(opts.Output)
		if err != nil {
			return summary, fmt.Errorf("read previous output: %w", err)
		}
		diff := aggregate.Diff(previous, current, opts.Whitelist)
		final = diff.Union
		summary.Added = len(diff.Added)
		summary.Retracted = len(diff.Retracted)
		log.Info("reconciled with previous output", "previous", previous.Len(), "added", len(diff.Added),
			"stale", diff.Stale, "retracted", len(diff.Retracted))
	}
	summary.Entries = final.Len()

	if final.Len() == 0 {
		log.Warn("nothing to write", "path", opts.Output)
		return summary, ErrEmptyResult
	}

	data := hostsfile.Assemble(final, sources, hostsfile.Options{Sinkhole: opts.Sinkhole, GeneratedAt: now()})
	if err := hostsfile.WriteAtomic(opts.Output, data, 0o644); err != nil {
		return summary, fmt.Errorf("write output: %w", err)
	}
	summary.Written = true
	finished := now()
	log.Info("wrote hosts file", "path", opts.Output, "entries", summary.Entries, "added", summary.Added,
		"retracted", summary.Retracted, "duration", finished.Sub(started))

	record(ctx, opts, summary, started, finished, log)

	if opts.Publisher != nil {
		if err := opts.Publisher.Publish(ctx, opts.Output, summary.Entries); err != nil {
			return summary, fmt.Errorf("publish: %w", err)
		}
	}
	return summary, nil
}

// ResolveSources loads the manifest and appends opts.ExtraSources. It fails
// with aggregate.ErrNoSources when nothing is left.
func ResolveSources(ctx context.Context, opts Options) ([]manifest.Source, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("pipeline: no fetcher configured")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	var listed []manifest.Source
	if opts.ManifestLocation != "" {
		data, err := opts.Fetcher.FetchManifest(ctx, opts.ManifestLocation, opts.ManifestMaxAge)
		if err != nil {
			return nil, fmt.Errorf("load manifest: %w", err)
		}
		listed, err = manifest.ParseBytes(data, log)
		if err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
	}
	sources := manifest.Combine(listed, opts.ExtraSources)
	if len(sources) == 0 {
		return nil, aggregate.ErrNoSources
	}
	return sources, nil
}

// record stores the run in history and metrics. Failures are logged only.
func record(ctx context.Context, opts Options, summary Summary, started, finished time.Time, log *slog.Logger) {
	if opts.History != nil {
		_, err := opts.History.Record(ctx, history.Run{
			StartedAt:     started,
			FinishedAt:    finished,
			Mode:          opts.Mode(),
			SourcesOK:     summary.SourcesOK,
			SourcesFailed: summary.SourcesFailed,
			Entries:       summary.Entries,
			Added:         summary.Added,
			Retracted:     summary.Retracted,
			Output:        opts.Output,
		})
		if err != nil {
			log.Warn("failed to record run history", "error", err)
		}
	}

	if opts.Metrics == nil {
		return
	}
	samples := make([]metrics.SourceSample, 0, len(summary.Report.Sources))
	for _, st := range summary.Report.Sources {
		samples = append(samples, metrics.SourceSample{
			Label:    st.Label,
			Lines:    st.Lines,
			Accepted: st.Accepted,
			Failed:   st.Err != nil,
		})
	}
	opts.Metrics.Observe(metrics.RunSample{
		Entries:   summary.Entries,
		Added:     summary.Added,
		Retracted: summary.Retracted,
		Sources:   samples,
		Finished:  finished,
		Duration:  finished.Sub(started),
	})
	if opts.MetricsTextfile != "" {
		if err := opts.Metrics.WriteTextfile(opts.MetricsTextfile); err != nil {
			log.Warn("failed to write metrics", "error", err)
		}
	}
}
