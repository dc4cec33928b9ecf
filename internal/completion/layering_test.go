package completion

import (
	"testing"

	"clinicalcore/testutil"
)

func TestNoBackendImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImport, "completion works against domain interfaces")
}
