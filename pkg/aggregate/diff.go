package aggregate

import (
	"sort"

	"hostsgen/pkg/whitelist"
)

// DiffResult is the outcome of reconciling a fresh merge with published output.
type DiffResult struct {
	// Added holds domains new in this run, sorted.
	Added []string
	// Stale counts published domains no longer offered by any source. They
	// are kept in Union.
	Stale int
	// Retracted holds published or new domains dropped because they are now
	// whitelisted, sorted.
	Retracted []string
	// Union is the set to publish.
	Union *EntrySet
}

// Diff reconciles current with previous additively: entries that disappeared
// upstream stay published, new entries are appended. The union is filtered
// through wl once more so that whitelist changes made since the previous run
// retract already-published entries. A nil or empty previous set yields
// current as the union.
func Diff(previous, current *EntrySet, wl *whitelist.Matcher) DiffResult {
	var (
		union *EntrySet
		added []string
		stale int
	)

	if previous.Len() == 0 {
		union = current.Clone()
		added = union.Domains()
	} else {
		union = previous.Clone()
		for _, domain := range symmetricDifference(previous, current) {
			if previous.Has(domain) {
				stale++
				continue
			}
			union.Add(domain, current.Source(domain))
			added = append(added, domain)
		}
	}

	retracted := union.RemoveFunc(wl.IsWhitelisted)
	if len(retracted) > 0 {
		added = without(added, retracted)
	}
	sort.Strings(added)

	return DiffResult{
		Added:     added,
		Stale:     stale,
		Retracted: retracted,
		Union:     union,
	}
}

// symmetricDifference returns the domains present in exactly one of a and b.
func symmetricDifference(a, b *EntrySet) []string {
	var out []string
	if a != nil {
		for domain := range a.entries {
			if !b.Has(domain) {
				out = append(out, domain)
			}
		}
	}
	if b != nil {
		for domain := range b.entries {
			if !a.Has(domain) {
				out = append(out, domain)
			}
		}
	}
	return out
}

func without(domains []string, drop []string) []string {
	skip := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		skip[d] = struct{}{}
	}
	out := domains[:0]
	for _, d := range domains {
		if _, ok := skip[d]; !ok {
			out = append(out, d)
		}
	}
	return out
}
