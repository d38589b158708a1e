package territory

import "strings"

// Normalize canonicalizes a raw territory value to a 2-letter lowercase
// country code. Returns false when the value is blank, the literal "unknown",
// or anything other than exactly two ASCII letters.
func Normalize(raw string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" || trimmed == "unknown" {
		return "", false
	}
	if len(trimmed) != 2 || !isAlphaLower(trimmed) {
		return "", false
	}
	return trimmed, true
}

func isAlphaLower(value string) bool {
	for _, r := range value {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
