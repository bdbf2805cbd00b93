// Package hostsfile reads and writes the generated sinkhole hosts file.
package hostsfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hostsgen/pkg/aggregate"
	"hostsgen/pkg/manifest"
)

// DefaultSinkhole is the address blocked domains resolve to.
const DefaultSinkhole = "127.0.0.1"

const bannerRule = "###########################################################################"

// Options controls output assembly.
type Options struct {
	Sinkhole string
	// GeneratedAt is printed in the banner; zero means now.
	GeneratedAt time.Time
}

// FormatEntry renders one hosts line without the trailing newline.
func FormatEntry(sinkhole, domain string) string {
	return sinkhole + " " + domain
}

// Assemble renders the banner followed by one sorted line per entry.
func Assemble(set *aggregate.EntrySet, sources []manifest.Source, opts Options) []byte {
	sinkhole := opts.Sinkhole
	if sinkhole == "" {
		sinkhole = DefaultSinkhole
	}
	generated := opts.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	var buf bytes.Buffer
	buf.WriteString(bannerRule + "\n")
	fmt.Fprintf(&buf, "# Generated on %s\n", generated.UTC().Format(time.RFC3339))
	buf.WriteString("# Contains hosts from:\n")
	for _, src := range sources {
		fmt.Fprintf(&buf, "# %s (%s)\n", src.Label, src.URL)
	}
	fmt.Fprintf(&buf, "# Entries: %d\n", set.Len())
	buf.WriteString(bannerRule + "\n")

	for _, domain := range set.Domains() {
		buf.WriteString(FormatEntry(sinkhole, domain))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParsePublished reconstructs the entry set of a previously written file.
// Banner and comment lines are skipped, inline comments are cut off, and the
// last remaining field of every other line is taken as the domain.
func ParsePublished(r io.Reader) (*aggregate.EntrySet, error) {
	set := aggregate.NewEntrySet()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		set.Add(strings.ToLower(fields[len(fields)-1]), "")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan published hosts: %w", err)
	}
	return set, nil
}

// ReadPublished loads the published entry set from path. A missing file is a
// first run and yields an empty set.
func ReadPublished(path string) (*aggregate.EntrySet, error) {
	file, err := os.Open(path) // #nosec G304 -- output path is provided via config.
	if errors.Is(err, os.ErrNotExist) {
		return aggregate.NewEntrySet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open published hosts: %w", err)
	}
	defer file.Close()

	return ParsePublished(file)
}

// WriteAtomic writes data to a temporary file next to path and renames it into
// place, so a failed write never leaves a truncated artifact behind.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
