package main

import "strings"

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// splitMarkers parses -m. An unset flag yields nil, which disables marker
// intersection; a set flag always yields a non-nil list.
func splitMarkers(raw string, set bool) []string {
	if !set {
		return nil
	}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
