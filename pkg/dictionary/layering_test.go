package dictionary_test

import (
	"testing"

	"clinicalcore/testutil"
)

func TestNoInternalImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImport, "pkg/dictionary is public API")
}
