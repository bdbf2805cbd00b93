// Package manifest describes the upstream filter lists a run aggregates.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Source identifies one upstream filter list. Label doubles as its cache key.
type Source struct {
	URL   string `yaml:"url"`
	Label string `yaml:"label"`
}

// Parse reads a manifest of "url,label" lines. Blank lines and lines starting
// with '#' are ignored; malformed lines and duplicate labels are logged and
// skipped.
func Parse(r io.Reader, log *slog.Logger) ([]Source, error) {
	if log == nil {
		log = slog.Default()
	}

	sources := make([]Source, 0)
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		location, label, found := strings.Cut(line, ",")
		location = strings.TrimSpace(location)
		label = strings.TrimSpace(label)
		if !found || location == "" || label == "" {
			log.Warn("invalid manifest entry", "line", lineNum, "entry", line)
			continue
		}
		if seen[label] {
			log.Warn("duplicate manifest label", "line", lineNum, "label", label)
			continue
		}
		seen[label] = true
		sources = append(sources, Source{URL: location, Label: label})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	return sources, nil
}

// ParseBytes is a convenience wrapper around Parse.
func ParseBytes(data []byte, log *slog.Logger) ([]Source, error) {
	return Parse(bytes.NewReader(data), log)
}

// Combine appends extra sources to base, dropping extras whose label is
// already taken.
func Combine(base []Source, extra []Source) []Source {
	out := make([]Source, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(base)+len(extra))
	for _, list := range [][]Source{base, extra} {
		for _, src := range list {
			if seen[src.Label] {
				continue
			}
			seen[src.Label] = true
			out = append(out, src)
		}
	}
	return out
}
