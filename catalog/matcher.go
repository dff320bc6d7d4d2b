package catalog

import "strings"

// Match checks if an event name matches a pattern.
//
// Supported patterns:
//
//	"checkout.completed"  exact match
//	"checkout.*"          one segment wildcard
//	"checkout.**"         any number of trailing segments
//	"*"                   matches everything
func Match(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	nameParts := strings.Split(name, ".")

	for i, pp := range patternParts {
		if pp == "**" && i == len(patternParts)-1 {
			return len(nameParts) > i
		}
		if i >= len(nameParts) {
			return false
		}
		if pp != "*" && pp != nameParts[i] {
			return false
		}
	}
	return len(patternParts) == len(nameParts)
}

// MatchAny reports whether name matches any of patterns.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if Match(p, name) {
			return true
		}
	}
	return false
}
