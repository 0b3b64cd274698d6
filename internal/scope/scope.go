// Package scope manipulates OAuth scope sets. A scope is a lowercase
// "resource:action" capability string; sets are deduplicated and order
// independent.
package scope

import (
	"sort"
	"strings"
)

// Normalize trims, lowercases and deduplicates a scope list. Empty entries are
// dropped; the result is sorted for stable comparison and serialization.
func Normalize(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	var out []string
	for _, s := range scopes {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Split parses a space-delimited scope string into a normalized set.
func Split(raw string) []string {
	return Normalize(strings.Fields(raw))
}

// Join renders a scope set as the space-delimited wire form.
func Join(scopes []string) string {
	return strings.Join(Normalize(scopes), " ")
}

// Intersect returns the normalized intersection of two scope sets.
func Intersect(a, b []string) []string {
	a = Normalize(a)
	if len(a) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(b))
	for _, s := range Normalize(b) {
		allowed[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := allowed[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Subset reports whether every scope in want is present in have.
func Subset(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, s := range Normalize(have) {
		set[s] = struct{}{}
	}
	for _, s := range Normalize(want) {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// ParsePermission splits a "resource:action" scope into its parts. The second
// return is false when the scope does not carry exactly one separator.
func ParsePermission(s string) (resource, action string, ok bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	idx := strings.Index(s, ":")
	if idx <= 0 || idx == len(s)-1 || strings.Count(s, ":") != 1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}
