package submission

import (
	"testing"

	"clinicalcore/testutil"
)

func TestNoBackendImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImport, "submission works against domain interfaces")
}
