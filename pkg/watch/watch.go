// Package watch reruns a build on a schedule and when its inputs change.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

const defaultDebounce = 500 * time.Millisecond

// Options configures the watch loop.
type Options struct {
	// Interval between scheduled rebuilds. Zero disables the schedule.
	Interval time.Duration
	// Paths are local files whose changes trigger a rebuild.
	Paths    []string
	Debounce time.Duration
	Log      *slog.Logger
}

// Run calls rebuild once, then again on every interval tick and after every
// debounced change to one of the watched files. Rebuild errors are logged and
// do not stop the loop. Run returns nil when ctx is cancelled.
func Run(ctx context.Context, opts Options, rebuild func(context.Context) error) error {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range opts.Paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := watcher.Add(dir); err != nil {
				log.Warn("failed to watch directory", "dir", dir, "error", err)
				continue
			}
			dirs[dir] = true
		}
		files[abs] = true
		log.Info("watching for changes", "path", abs)
	}

	changed := make(chan string, 1)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				abs, err := filepath.Abs(event.Name)
				if err != nil || !files[abs] {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case changed <- abs:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.Warn("watcher error", "error", err)
			}
		}
	})

	g.Go(func() error {
		runOnce(ctx, log, "startup", rebuild)

		var tick <-chan time.Time
		if opts.Interval > 0 {
			ticker := time.NewTicker(opts.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		var debounce *time.Timer
		var fire <-chan time.Time
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
				runOnce(ctx, log, "schedule", rebuild)
			case path := <-changed:
				log.Debug("input changed", "path", path)
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.NewTimer(opts.Debounce)
				fire = debounce.C
			case <-fire:
				fire = nil
				runOnce(ctx, log, "change", rebuild)
			}
		}
	})

	return g.Wait()
}

func runOnce(ctx context.Context, log *slog.Logger, trigger string, rebuild func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	if err := rebuild(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error("rebuild failed", "trigger", trigger, "error", err)
	}
}
