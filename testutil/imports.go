package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// AssertNoDirectImports parses the non-test Go files in dir and fails when
// an import path matches forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := importViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan imports of %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// InternalImport matches packages under this module's internal tree.
func InternalImport(path string) bool {
	return path == "clinicalcore/internal" || strings.HasPrefix(path, "clinicalcore/internal/")
}

// InfraImport matches the concrete storage and blob backends.
func InfraImport(path string) bool {
	return strings.HasPrefix(path, "clinicalcore/internal/infra/")
}

func importViolations(dir string, forbidden func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if forbidden(path) {
				viols = append(viols, path+" (in "+name+")")
			}
		}
	}
	return viols, nil
}
