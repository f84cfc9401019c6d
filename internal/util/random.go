package util

import (
	"math/rand"
	"strings"
)

// RandomID generates a random ID in the format "{prefix}{hex_string}".
// Uses math/rand/v2; these IDs are record identifiers, not secrets.
func RandomID(prefix string, hexLength int) string {
	return prefix + RandomHex(hexLength)
}

// RandomHex generates a random hexadecimal string of the specified length.
func RandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// RandomSuffix generates a random lowercase alphanumeric string used to
// disambiguate colliding entity slugs within a team.
func RandomSuffix(length int) string {
	if length <= 0 {
		return ""
	}

	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(chars[rand.Intn(len(chars))])
	}

	return builder.String()
}

// SessionID generates a unique conversation session ID with "s_" prefix.
func SessionID() string {
	return RandomID("s_", 32)
}

// LeadID generates a unique lead ID with "l_" prefix.
func LeadID() string {
	return RandomID("l_", 32)
}

// MessageID generates a unique message ID with "m_" prefix.
func MessageID() string {
	return RandomID("m_", 32)
}
