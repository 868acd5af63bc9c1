package tapcov

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestVersion checks the semantic version prefix and the commit suffix.
func TestVersion(t *testing.T) {
	version := Version()
	require.True(t, strings.HasPrefix(version, "0.1.0-alpha commit="))

	old := Commit
	Commit = "v0.1.0-3-gabcdef"
	t.Cleanup(func() {
		Commit = old
	})
	require.Equal(t, "0.1.0-alpha commit=v0.1.0-3-gabcdef", Version())
}
