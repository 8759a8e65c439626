package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion_Defaults(t *testing.T) {
	// Defaults before ldflags injection at build time.
	assert.Equal(t, "dev", Version)
	assert.Equal(t, "dev", Commit)
	assert.Equal(t, "unknown", BuildTime)
}
