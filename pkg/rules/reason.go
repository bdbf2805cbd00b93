package rules

// Reason classifies why a line was accepted or rejected.
type Reason int

const (
	Accepted Reason = iota
	Empty
	Comment
	InvalidChar
	FileExtension
	TrailingMarker
	NoHost
	IPLiteral
	Reserved
	PublicSuffix
	InvalidDomain
	Malformed
)

var reasonNames = map[Reason]string{
	Accepted:       "accepted",
	Empty:          "empty",
	Comment:        "comment",
	InvalidChar:    "invalid_char",
	FileExtension:  "file_extension",
	TrailingMarker: "trailing_marker",
	NoHost:         "no_host",
	IPLiteral:      "ip_literal",
	Reserved:       "reserved",
	PublicSuffix:   "public_suffix",
	InvalidDomain:  "invalid_domain",
	Malformed:      "malformed",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// Noisy reports whether a rejection is worth surfacing in logs. Comments and
// blank lines make up most of every list and are not.
func (r Reason) Noisy() bool {
	switch r {
	case Accepted, Empty, Comment:
		return false
	default:
		return true
	}
}
