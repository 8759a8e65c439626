package contextutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		expected string
	}{
		{"empty key", "", "[EMPTY]"},
		{"short key fully masked", "abcd", "****"},
		{"eight bytes fully masked", "12345678", "********"},
		{"nine bytes keeps edges", "123456789", "1234*6789"},
		{"openai-style prefix", "sk-1234567890abcdef", "sk-1***********cdef"},
		{"long key", "abcdefghijklmnopqrstuvwxyz123456", "abcd************************3456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskAPIKey(tt.apiKey))
		})
	}
}

func TestMaskAPIKey_PreservesShapeOnly(t *testing.T) {
	apiKey := "sk-1234567890abcdefghijklmnopqrstuvwxyz"
	masked := MaskAPIKey(apiKey)

	assert.Equal(t, len(apiKey), len(masked))
	assert.Equal(t, apiKey[:4], masked[:4])
	assert.Equal(t, apiKey[len(apiKey)-4:], masked[len(masked)-4:])
	assert.Equal(t, strings.Repeat("*", len(apiKey)-8), masked[4:len(masked)-4])
}
