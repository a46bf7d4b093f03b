package devicepool

import "strings"

// parseDeviceAllowlist splits DEVICE_ALLOWLIST. Names may be separated by
// commas, semicolons, pipes or whitespace, e.g.
//
//	DEVICE_ALLOWLIST="pixel-7,iphone-14"
//	DEVICE_ALLOWLIST="pixel-7 iphone-14"
func parseDeviceAllowlist(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', '\n', '\r', '\t', ' ', '|':
			return true
		default:
			return false
		}
	})
	return normalizeDeviceAllowlist(parts)
}

// normalizeDeviceAllowlist trims, case-folds and dedupes names.
func normalizeDeviceAllowlist(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func buildDeviceAllowlistSet(names []string) map[string]struct{} {
	names = normalizeDeviceAllowlist(names)
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
