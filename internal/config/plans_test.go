package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultPlanCatalogIsValid(t *testing.T) {
	require.NoError(t, ValidatePlanCatalog(DefaultPlanCatalog()))
}

func TestValidatePlanCatalogRejectsMissingTier(t *testing.T) {
	catalog := DefaultPlanCatalog()
	catalog.Plans = catalog.Plans[:len(catalog.Plans)-1]

	err := ValidatePlanCatalog(catalog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pay_as_you_go")
}

func TestCreditPriceFor(t *testing.T) {
	catalog := DefaultPlanCatalog()

	price, ok := catalog.CreditPriceFor("inr")
	require.True(t, ok)
	assert.Equal(t, "4.5", price.String())

	_, ok = catalog.CreditPriceFor("EUR")
	assert.False(t, ok)
}

func TestValidatePlanCatalogRejectsBadCreditPrice(t *testing.T) {
	catalog := DefaultPlanCatalog()
	catalog.CreditPrice = map[string]string{"INR": "0"}

	err := ValidatePlanCatalog(catalog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creditPrice")
}

func TestValidatePlanCatalogRejectsDuplicateTier(t *testing.T) {
	catalog := DefaultPlanCatalog()
	catalog.Plans = append(catalog.Plans, catalog.Plans[0])

	require.Error(t, ValidatePlanCatalog(catalog))
}

func TestNewPlanCatalogHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yml")
	content := `catalog:
  annualDiscountPercent: 25
  plans:
    - tier: free
      callsPerMonth: 5
      storageMB: 50
      seats: 1
    - tier: individual
      callsPerMonth: 100
      storageMB: 1024
      seats: 1
    - tier: team
      callsPerMonth: 500
      storageMB: 10240
      seats: 10
    - tier: enterprise
      callsPerMonth: 5000
      storageMB: 102400
      seats: 100
    - tier: pay_as_you_go
      callsPerMonth: 0
      storageMB: 5120
      seats: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewPlanCatalogHolder(Config{PlansFile: path}, zap.NewNop())
	require.NoError(t, err)

	catalog := holder.Get()
	assert.Equal(t, int64(25), catalog.AnnualDiscountPercent)
	assert.Equal(t, int64(5), catalog.Plans[0].CallsPerMonth)
}
