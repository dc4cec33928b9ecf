package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600))
}

func TestImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", `package x

import (
	"fmt"
	"clinicalcore/internal/infra/persistence/memory"
)
`)
	writeGo(t, dir, "a_test.go", `package x

import "clinicalcore/internal/core"
`)
	writeGo(t, dir, "notes.txt", "clinicalcore/internal/core")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	viols, err := importViolations(dir, InternalImport)
	require.NoError(t, err)
	assert.Equal(t, []string{"clinicalcore/internal/infra/persistence/memory (in a.go)"}, viols)

	viols, err = importViolations(dir, func(string) bool { return false })
	require.NoError(t, err)
	assert.Empty(t, viols)
}

func TestImportViolationsReportsParseErrors(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "bad.go", "package")
	_, err := importViolations(dir, InternalImport)
	require.Error(t, err)

	_, err = importViolations(filepath.Join(dir, "missing"), InternalImport)
	require.Error(t, err)
}

func TestImportPredicates(t *testing.T) {
	tests := []struct {
		path     string
		internal bool
		infra    bool
	}{
		{"clinicalcore/internal/core", true, false},
		{"clinicalcore/internal/infra/blob/s3", true, true},
		{"clinicalcore/internalx", false, false},
		{"clinicalcore/pkg/domain", false, false},
		{"github.com/other/internal/thing", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.internal, InternalImport(tt.path), tt.path)
		assert.Equal(t, tt.infra, InfraImport(tt.path), tt.path)
	}
}
