package util

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes for each entity family.
const (
	PrefixDraft    = "DRAFT"
	PrefixQuestion = "Q"
	PrefixFeature  = "FEAT"
	PrefixQA       = "QA"
)

const idSuffixLen = 8

// NewID returns prefix-XXXXXXXX where the suffix is the first eight upper-case
// hex digits of a random UUID.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	suffix := strings.ToUpper(raw[:idSuffixLen])
	if prefix == "" {
		return suffix
	}
	return prefix + "-" + suffix
}

// NormalizeID upper-cases a user supplied id and adds the prefix when it is
// missing, so "1a2b3c4d" and "draft-1a2b3c4d" both become "DRAFT-1A2B3C4D".
func NormalizeID(prefix, raw string) string {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" || prefix == "" {
		return id
	}
	if strings.HasPrefix(id, prefix+"-") {
		return id
	}
	return prefix + "-" + id
}

// HasPrefix reports whether id belongs to the family identified by prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"-") && len(id) == len(prefix)+1+idSuffixLen
}
