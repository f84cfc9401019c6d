package util

import (
	"strings"
	"unicode"
)

// Slugify converts a human-readable name into a URL-safe slug: lowercase,
// alphanumeric runs joined by single hyphens. Non-ASCII letters pass through
// lowercased so names like "Cotización" keep their letters.
func Slugify(name string) string {
	var builder strings.Builder
	builder.Grow(len(name))

	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			builder.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				builder.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.TrimSuffix(builder.String(), "-")
}
