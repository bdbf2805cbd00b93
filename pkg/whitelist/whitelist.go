// Package whitelist decides which domains must never be sink-holed.
package whitelist

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// Matcher holds literal domains and shell-glob patterns. Patterns are matched
// against the bare domain, so "*.cloudfront.net" covers every level below
// cloudfront.net. All comparisons are case-insensitive.
type Matcher struct {
	exact map[string]struct{}
	globs []string
}

// New builds a Matcher from literal entries and glob patterns. Entries in
// exact that contain glob metacharacters are treated as patterns.
func New(exact []string, globs []string) (*Matcher, error) {
	m := &Matcher{exact: make(map[string]struct{}, len(exact))}
	for _, entry := range exact {
		if err := m.add(entry); err != nil {
			return nil, err
		}
	}
	for _, pattern := range globs {
		if err := m.addGlob(pattern); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Load reads a whitelist file and adds the extra entries. An empty path
// yields a Matcher with only the extra entries.
func Load(filePath string, extra []string, log *slog.Logger) (*Matcher, error) {
	if log == nil {
		log = slog.Default()
	}
	m, err := New(extra, nil)
	if err != nil {
		return nil, err
	}
	if filePath == "" {
		return m, nil
	}

	file, err := os.Open(filePath) // #nosec G304 -- path is provided via config.
	if err != nil {
		return nil, fmt.Errorf("open whitelist: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Warn("failed to close whitelist file", "error", err)
		}
	}()

	if err := m.read(file); err != nil {
		return nil, fmt.Errorf("read whitelist %s: %w", filePath, err)
	}
	log.Info("loaded whitelist", "path", filePath, "exact", len(m.exact), "patterns", len(m.globs))
	return m, nil
}

// Parse reads whitelist entries from r, one per line. Lines starting with '#'
// are comments; hosts-style lines contribute their last field.
func Parse(r io.Reader) (*Matcher, error) {
	m := &Matcher{exact: make(map[string]struct{})}
	if err := m.read(r); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) read(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := m.add(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	return scanner.Err()
}

func (m *Matcher) add(entry string) error {
	name := lastField(entry)
	if name == "" {
		return nil
	}
	if isGlob(name) {
		return m.addGlob(name)
	}
	m.exact[toASCII(strings.TrimSuffix(name, "."))] = struct{}{}
	return nil
}

func (m *Matcher) addGlob(pattern string) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid whitelist pattern %q: %w", pattern, err)
	}
	m.globs = append(m.globs, pattern)
	return nil
}

// IsWhitelisted reports whether s is covered by the whitelist. s may be a bare
// domain or an entry line such as "127.0.0.1 example.com". A nil Matcher
// whitelists nothing.
func (m *Matcher) IsWhitelisted(s string) bool {
	if m == nil {
		return false
	}
	domain := toASCII(strings.TrimSuffix(lastField(s), "."))
	if domain == "" {
		return false
	}
	if _, ok := m.exact[domain]; ok {
		return true
	}
	for _, pattern := range m.globs {
		if ok, _ := path.Match(pattern, domain); ok {
			return true
		}
	}
	return false
}

// Len returns the number of literal entries and patterns.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.exact) + len(m.globs)
}

// lastField returns the lower-cased last field of s, ignoring anything after
// a '#'.
func lastField(s string) string {
	s, _, _ = strings.Cut(s, "#")
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

// toASCII returns the punycode form of an internationalized name, matching the
// names the normalizer emits. Names that fail conversion are kept as is.
func toASCII(name string) string {
	if !hasNonASCII(name) {
		return name
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return name
	}
	return ascii
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
