package logging

import (
	"sort"
	"strings"
)

// RedactedValue is the placeholder used for sensitive log fields.
const RedactedValue = "[REDACTED]"

// allowlist names the attribute keys exempt from redaction, lowercased
// because IsAllowlisted matches keys case-insensitively. Everything a PoC
// log line would otherwise emit — peer addresses, secret key material,
// receipt signatures — is assumed sensitive unless it's here.
var allowlist = map[string]struct{}{
	"service":      {},
	"env":          {},
	"message":      {},
	"severity":     {},
	"timestamp":    {},
	"error":        {},
	"reason":       {},
	"component":    {},
	"onionkeyhash": {},
	"blockhash":    {},
	"height":       {},
}

// IsAllowlisted reports whether a log key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := allowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// Allowlist returns a sorted copy of the exempt keys.
func Allowlist() []string {
	keys := make([]string, 0, len(allowlist))
	for key := range allowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns the redacted placeholder for non-empty values, leaving
// empty values alone so they don't add noise.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}
