package contextutils

import (
	"strings"
)

// MaskAPIKey redacts an API key so it can safely appear in logs.
// Keys longer than 8 bytes keep their first and last 4 bytes; anything
// shorter is fully starred out.
func MaskAPIKey(apiKey string) string {
	switch {
	case apiKey == "":
		return "[EMPTY]"
	case len(apiKey) <= 8:
		return strings.Repeat("*", len(apiKey))
	default:
		return apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
}
