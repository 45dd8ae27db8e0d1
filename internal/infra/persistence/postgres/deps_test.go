package postgres

import (
	"testing"

	"taskledger/testutil"
)

func TestImportsAreDomainOrThirdParty(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.OnlyDomainAllowed, "storage backends depend only on pkg/domain")
}
