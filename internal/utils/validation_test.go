package contextutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEmail(t *testing.T) {
	valid := []string{
		"user@example.com",
		"user.name@example.com",
		"user+tag@example.com",
		"user@example.co.uk",
		"user@subdomain.example.com",
	}
	for _, email := range valid {
		assert.True(t, IsValidEmail(email), email)
	}

	invalid := []string{
		"",
		"invalid-email",
		"@example.com",
		"user@",
		"user@.com",
		"user@example",
		"user@example.",
		"user name@example.com",
		"user@example..com",
	}
	for _, email := range invalid {
		assert.False(t, IsValidEmail(email), email)
	}
}
