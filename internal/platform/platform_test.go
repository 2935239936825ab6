package platform

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTag verifies the GOOS to registry namespace mapping for the
// platform the tests run on.
func TestTag(t *testing.T) {
	tag := Tag()
	switch runtime.GOOS {
	case "windows":
		assert.Equal(t, "windows", tag)
	case "darwin":
		assert.Equal(t, "osx", tag)
	default:
		assert.Equal(t, "linux", tag)
	}
}

// TestHostResolverIdentity verifies the default resolver yields a
// non-empty identity.
func TestHostResolverIdentity(t *testing.T) {
	id, err := HostResolver{}.Identity()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
