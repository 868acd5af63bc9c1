//go:build gen_test_vectors

package test

import (
	"encoding/json"
	prand "math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// rand uses a static seed so generated vectors are deterministic.
var rand = prand.New(prand.NewSource(1))

// WriteTestVectors stores target as indented JSON under testdata.
func WriteTestVectors(t testing.TB, fileName string, target any) {
	fileBytes, err := json.MarshalIndent(target, "", "  ")
	require.NoError(t, err)

	filePath := filepath.Join("testdata", fileName)
	require.NoError(t, os.WriteFile(filePath, fileBytes, 0644))
}
