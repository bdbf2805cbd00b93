package aggregate

import "sort"

// EntrySet is a deduplicated set of sink-holed domains. Each domain remembers
// the label of the first source that contributed it.
type EntrySet struct {
	entries map[string]string
}

// NewEntrySet creates an empty EntrySet.
func NewEntrySet() *EntrySet {
	return &EntrySet{entries: make(map[string]string)}
}

// Add inserts domain and reports whether it was new. Provenance of an existing
// entry is left untouched.
func (s *EntrySet) Add(domain string, label string) bool {
	if domain == "" {
		return false
	}
	if _, ok := s.entries[domain]; ok {
		return false
	}
	s.entries[domain] = label
	return true
}

// Has reports whether domain is in the set.
func (s *EntrySet) Has(domain string) bool {
	if s == nil {
		return false
	}
	_, ok := s.entries[domain]
	return ok
}

// Source returns the label of the source that first contributed domain.
func (s *EntrySet) Source(domain string) string {
	if s == nil {
		return ""
	}
	return s.entries[domain]
}

// Len returns the number of entries.
func (s *EntrySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Merge adds every entry of other, keeping existing provenance.
func (s *EntrySet) Merge(other *EntrySet) {
	if other == nil {
		return
	}
	for domain, label := range other.entries {
		if _, ok := s.entries[domain]; !ok {
			s.entries[domain] = label
		}
	}
}

// Clone returns an independent copy of the set.
func (s *EntrySet) Clone() *EntrySet {
	out := NewEntrySet()
	out.Merge(s)
	return out
}

// RemoveFunc deletes every entry for which fn returns true and returns the
// removed domains in sorted order.
func (s *EntrySet) RemoveFunc(fn func(domain string) bool) []string {
	if s == nil {
		return nil
	}
	var removed []string
	for domain := range s.entries {
		if fn(domain) {
			removed = append(removed, domain)
		}
	}
	for _, domain := range removed {
		delete(s.entries, domain)
	}
	sort.Strings(removed)
	return removed
}

// Domains returns all entries sorted lexicographically.
func (s *EntrySet) Domains() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.entries))
	for domain := range s.entries {
		out = append(out, domain)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same domains.
func (s *EntrySet) Equal(other *EntrySet) bool {
	if s.Len() != other.Len() {
		return false
	}
	if s == nil {
		return true
	}
	for domain := range s.entries {
		if !other.Has(domain) {
			return false
		}
	}
	return true
}

// CountBySource returns how many entries each source label contributed.
func (s *EntrySet) CountBySource() map[string]int {
	counts := make(map[string]int)
	if s == nil {
		return counts
	}
	for _, label := range s.entries {
		counts[label]++
	}
	return counts
}
