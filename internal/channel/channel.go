// Package channel derives the shared channel key that two participants compute
// independently, with no handshake, to find the same update log.
package channel

import (
	"sort"
	"strings"
)

const (
	// Substitute replaces every character that is illegal in a path segment.
	Substitute = ','
	// Separator joins the sanitized pair. Sanitize escapes it, so a sanitized
	// address never contains it and a pair key holds exactly one.
	Separator = "_"
	// Escape introduces an escaped Separator or a literal Escape.
	Escape = '~'

	alertPrefix = "alert-"
)

// illegal characters in a transport path segment
const illegal = ".@#$/[]"

// Normalize returns the canonical form of an address: trimmed and lower-cased.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

var escaper = strings.NewReplacer("~", "~~", "_", "~u")

// Sanitize normalizes address, escapes Separator and replaces illegal
// characters with Substitute.
func Sanitize(address string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(illegal, r) {
			return Substitute
		}
		return r
	}, escaper.Replace(Normalize(address)))
}

// DeriveChannel returns the symmetric pairwise channel key for a and b.
func DeriveChannel(a, b string) string {
	pair := []string{Normalize(a), Normalize(b)}
	sort.Strings(pair)
	return Sanitize(pair[0]) + Separator + Sanitize(pair[1])
}

// AlertChannel keys an alert's own log by its id rather than by participants.
func AlertChannel(alertID string) string {
	return alertPrefix + Sanitize(alertID)
}

// IsAlertChannel reports whether key was produced by AlertChannel. Pair keys
// always contain Separator, alert keys never do.
func IsAlertChannel(key string) bool {
	return strings.HasPrefix(key, alertPrefix) && !strings.Contains(key, Separator)
}

// Participants recovers the sanitized addresses of a pairwise key.
func Participants(key string) (string, string, bool) {
	if IsAlertChannel(key) {
		return "", "", false
	}
	a, b, ok := strings.Cut(key, Separator)
	if !ok || a == "" || b == "" || strings.Contains(b, Separator) {
		return "", "", false
	}
	return a, b, true
}

// Involves reports whether address is one of the participants implied by a pairwise key.
func Involves(key, address string) bool {
	a, b, ok := Participants(key)
	if !ok {
		return false
	}
	s := Sanitize(address)
	return s == a || s == b
}

// Path is the transport path of a channel's record collection.
func Path(key string) string {
	return "channels/" + key + "/records"
}

// AlertPath is the transport path of an alert record.
func AlertPath(alertID string) string {
	return "alerts/" + Sanitize(alertID)
}

// ValidKey reports whether key is safe to use as a path segment.
func ValidKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, illegal)
}

// AlertIDOf returns the alert id encoded in an alert channel key.
func AlertIDOf(key string) (string, bool) {
	if !IsAlertChannel(key) {
		return "", false
	}
	id := strings.TrimPrefix(key, alertPrefix)
	return id, id != ""
}
