// Package topic implements MQTT topic name/filter validation and matching:
// legal publish topic names, legal subscribe/unsubscribe filters, and the
// segment-wise matching rule between the two.
package topic

import "strings"

// ValidName reports whether t is a legal PUBLISH topic: non-empty, no
// wildcard characters.
func ValidName(t string) bool {
	if t == "" {
		return false
	}
	return !strings.ContainsAny(t, "+#")
}

// ValidFilter reports whether f is a legal SUBSCRIBE/UNSUBSCRIBE topic
// filter: non-empty; a `#` must be the whole last segment; a `+` must be a
// whole segment wherever it appears.
func ValidFilter(f string) bool {
	if f == "" {
		return false
	}
	segments := strings.Split(f, "/")
	for i, seg := range segments {
		switch {
		case seg == "+", seg == "#":
			if seg == "#" && i != len(segments)-1 {
				return false
			}
		case strings.ContainsAny(seg, "+#"):
			return false
		}
	}
	return true
}

// IsWildcard reports whether f contains a wildcard segment. Callers use this
// to route a filter to the subscription index's exact map or its wildcard
// trie.
func IsWildcard(f string) bool {
	return strings.ContainsAny(f, "+#")
}

// Matches reports whether t (a concrete topic) is matched by f (a filter),
// segment-wise: `+` matches exactly one segment, `#` matches the remainder
// (zero or more segments). Topics beginning with `$` are never matched by a
// filter whose first segment is `+` or `#` — they are broker-internal.
func Matches(t, f string) bool {
	ts := strings.Split(t, "/")
	fs := strings.Split(f, "/")

	if strings.HasPrefix(t, "$") && len(fs) > 0 && (fs[0] == "+" || fs[0] == "#") {
		return false
	}

	for i, seg := range fs {
		if seg == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if seg == "+" {
			continue
		}
		if seg != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
