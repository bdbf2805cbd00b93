// Package rules converts raw filter-list lines into canonical domain names.
//
// Two dialects are understood: hosts-file lines ("0.0.0.0 example.com" or a bare
// "example.com") and Adblock-Plus network rules ("||example.com^$third-party").
// Everything else (comments, cosmetic rules, exceptions, URL fragments) is rejected.
package rules

import (
	"net"
	"strings"
	"unicode/utf8"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

const (
	// leadingMarkers start comments, cosmetic rules or other non-host syntax.
	leadingMarkers = "#-+.,/!?^$*|@&_[]:;= \t"
	// interiorMarkers may not appear anywhere in a host string. Dots, hyphens,
	// underscores and whitespace are only refused at the start.
	interiorMarkers = "#+,/!?^$*|@&[]:;="
	// trailingMarkers end comment fragments or partial rules.
	trailingMarkers = "#-+.,/!?^$*|@&_[]:;="
)

var contentExtensions = []string{".jpg", ".png", ".html", ".htm", ".php", ".gif"}

var reservedNames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
	"ip6-localnet":          {},
	"ip6-mcastprefix":       {},
	"ip6-allnodes":          {},
	"ip6-allrouters":        {},
	"0.0.0.0":               {},
}

// Result is the outcome of normalizing one line.
type Result struct {
	Domain string
	Reason Reason
}

// OK reports whether the line produced a domain.
func (r Result) OK() bool {
	return r.Reason == Accepted && r.Domain != ""
}

func reject(reason Reason) Result {
	return Result{Reason: reason}
}

// Normalize converts a single list line into a canonical domain or a rejection.
// It never panics; malformed input is reported as a rejection.
func Normalize(line string) (res Result) {
	defer func() {
		if recover() != nil {
			res = reject(Malformed)
		}
	}()

	text := strings.TrimSpace(line)
	if text == "" {
		return reject(Empty)
	}

	if strings.HasPrefix(text, "||") {
		text = strings.TrimPrefix(text, "||")
		text, _, _ = strings.Cut(text, "^")
		text, _, _ = strings.Cut(text, "/")
		text = strings.TrimSpace(text)
		if text == "" {
			return reject(NoHost)
		}
	}

	if strings.IndexByte(leadingMarkers, text[0]) >= 0 {
		return reject(Comment)
	}
	if strings.ContainsAny(text, interiorMarkers) {
		return reject(InvalidChar)
	}
	lower := strings.ToLower(text)
	for _, ext := range contentExtensions {
		if strings.HasSuffix(lower, ext) {
			return reject(FileExtension)
		}
	}
	if strings.IndexByte(trailingMarkers, text[len(text)-1]) >= 0 {
		return reject(TrailingMarker)
	}

	fields := strings.Fields(text)
	var candidate string
	switch {
	case len(fields) > 1:
		candidate = fields[1]
	case len(fields) == 1:
		candidate = fields[0]
	default:
		return reject(NoHost)
	}

	return canonicalize(candidate)
}

// canonicalize lower-cases the candidate, converts IDNs to their ASCII form
// and refuses names that cannot be sink-holed on their own.
func canonicalize(candidate string) Result {
	domain := strings.ToLower(candidate)
	if !isASCII(domain) {
		ascii, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			return reject(InvalidDomain)
		}
		domain = ascii
	}
	if strings.IndexByte(leadingMarkers, domain[0]) >= 0 {
		return reject(InvalidChar)
	}
	if strings.IndexByte(trailingMarkers, domain[len(domain)-1]) >= 0 {
		return reject(TrailingMarker)
	}
	if _, ok := reservedNames[domain]; ok {
		return reject(Reserved)
	}
	if net.ParseIP(domain) != nil {
		return reject(IPLiteral)
	}
	if !isHostname(domain) {
		return reject(InvalidChar)
	}
	if _, ok := dns.IsDomainName(domain); !ok {
		return reject(InvalidDomain)
	}
	if suffix, icann := publicsuffix.PublicSuffix(domain); suffix == domain {
		if icann || !strings.Contains(domain, ".") {
			return reject(PublicSuffix)
		}
	}
	return Result{Domain: domain, Reason: Accepted}
}

// isHostname reports whether s only uses lower-case letters, digits, dots,
// hyphens and underscores.
func isHostname(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
