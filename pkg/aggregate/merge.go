// Package aggregate folds normalized filter-list lines from many sources into
// one deduplicated entry set and reconciles it with previously published output.
package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"hostsgen/pkg/manifest"
	"hostsgen/pkg/rules"
	"hostsgen/pkg/whitelist"
)

// ErrNoSources is returned when not a single source could be read. It is
// distinct from an empty result, which would erase all existing blocking.
var ErrNoSources = errors.New("no source could be read")

const maxLineSize = 1 << 20

// SourceInput carries the fetched content of one source. A non-nil Err or nil
// Content marks the source as unreadable.
type SourceInput struct {
	Source  manifest.Source
	Content []byte
	Err     error
}

// EventKind identifies a progress event.
type EventKind int

const (
	SourceSkipped EventKind = iota
	SourceMerged
)

// Event reports progress of a merge. Done counts finished sources, skipped
// ones included.
type Event struct {
	Kind  EventKind
	Label string
	Done  int
	Total int
	Stats SourceStats
}

// SourceStats summarises how the lines of one source were classified.
type SourceStats struct {
	Label       string
	Lines       int
	Accepted    int
	Duplicates  int
	Whitelisted int
	Rejected    map[rules.Reason]int
	Err         error
}

// RejectedTotal returns the number of rejected non-empty lines.
func (s SourceStats) RejectedTotal() int {
	total := 0
	for _, n := range s.Rejected {
		total += n
	}
	return total
}

// Report summarises a merge.
type Report struct {
	Sources  []SourceStats
	Readable int
	Failed   int
}

// MergeOptions configures Merge.
type MergeOptions struct {
	// Whitelist filters accepted domains; nil disables whitelisting.
	Whitelist *whitelist.Matcher
	// Workers bounds how many sources are parsed at once.
	Workers int
	// ErrorLimit caps logged rejections per source; 0 disables logging and a
	// negative value logs everything.
	ErrorLimit int
	Log        *slog.Logger
	// Progress, when set, receives one event per source. Calls are serialized.
	Progress func(Event)
}

type errorLimiter struct {
	limit int
	count int
}

// Merge runs every line of every readable source through the normalizer and
// the whitelist and returns the union of accepted domains. Unreadable sources
// are logged and skipped. ErrNoSources is returned when none is readable.
func Merge(ctx context.Context, inputs []SourceInput, opts MergeOptions) (*EntrySet, Report, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	partials := make([]*EntrySet, len(inputs))
	stats := make([]SourceStats, len(inputs))

	var (
		progressMu sync.Mutex
		done       int
	)
	emit := func(kind EventKind, st SourceStats) {
		progressMu.Lock()
		defer progressMu.Unlock()
		done++
		if opts.Progress != nil {
			opts.Progress(Event{Kind: kind, Label: st.Label, Done: done, Total: len(inputs), Stats: st})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range inputs {
		if in.Err != nil || in.Content == nil {
			err := in.Err
			if err == nil {
				err = errors.New("no content")
			}
			stats[i] = SourceStats{Label: in.Source.Label, Err: err}
			log.Warn("skipping source", "list", in.Source.Label, "error", err)
			emit(SourceSkipped, stats[i])
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			set, st := mergeSource(in, opts.Whitelist, opts.ErrorLimit, log)
			stats[i] = st
			if st.Err != nil {
				log.Warn("skipping source", "list", st.Label, "error", st.Err)
				emit(SourceSkipped, st)
				return nil
			}
			partials[i] = set
			log.Info("merged source", "list", st.Label, "lines", st.Lines, "accepted", st.Accepted,
				"whitelisted", st.Whitelisted, "rejected", st.RejectedTotal())
			emit(SourceMerged, st)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Report{}, fmt.Errorf("merge sources: %w", err)
	}

	merged := NewEntrySet()
	report := Report{Sources: stats}
	for _, set := range partials {
		if set == nil {
			report.Failed++
			continue
		}
		report.Readable++
		merged.Merge(set)
	}

	if report.Readable == 0 {
		return nil, report, ErrNoSources
	}
	return merged, report, nil
}

func mergeSource(in SourceInput, wl *whitelist.Matcher, errorLimit int, log *slog.Logger) (*EntrySet, SourceStats) {
	label := in.Source.Label
	stats := SourceStats{Label: label, Rejected: make(map[rules.Reason]int)}
	limiter := errorLimiter{limit: errorLimit}
	set := NewEntrySet()

	scanner := bufio.NewScanner(bytes.NewReader(in.Content))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		stats.Lines++

		res := rules.Normalize(line)
		if !res.OK() {
			stats.Rejected[res.Reason]++
			if res.Reason.Noisy() {
				limiter.log(log, label, lineNum, line, res.Reason)
			}
			continue
		}
		if wl.IsWhitelisted(res.Domain) {
			stats.Whitelisted++
			continue
		}
		if !set.Add(res.Domain, label) {
			stats.Duplicates++
			continue
		}
		stats.Accepted++
	}

	if err := scanner.Err(); err != nil {
		stats.Err = fmt.Errorf("scan list: %w", err)
		return nil, stats
	}
	limiter.summary(log, label)
	return set, stats
}

func (l *errorLimiter) log(log *slog.Logger, label string, lineNum int, line string, reason rules.Reason) {
	if l.limit == 0 {
		return
	}
	l.count++
	if l.limit > 0 && l.count > l.limit {
		return
	}
	log.Debug("rejected list entry", "list", label, "line", lineNum, "entry", line, "reason", reason.String())
}

func (l *errorLimiter) summary(log *slog.Logger, label string) {
	if l.limit <= 0 || l.count <= l.limit {
		return
	}
	log.Debug("rejected entries suppressed", "list", label, "rejected", l.count, "logged", l.limit)
}
