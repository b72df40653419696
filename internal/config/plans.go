package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanConfig is one row of the per-tier allowance table.
type PlanConfig struct {
	Tier          string            `mapstructure:"tier"`
	CallsPerMonth int64             `mapstructure:"callsPerMonth"`
	StorageMB     int64             `mapstructure:"storageMB"`
	Seats         int64             `mapstructure:"seats"`
	MonthlyPrice  map[string]string `mapstructure:"monthlyPrice"`
}

// PlanCatalog is the allowance table plus pricing knobs shared by orders and invoices.
type PlanCatalog struct {
	Plans                 []PlanConfig `mapstructure:"plans"`
	AnnualDiscountPercent int64        `mapstructure:"annualDiscountPercent"`
	// CreditPrice is the pre-tax price of one credit per currency, e.g. "4.50" for INR.
	CreditPrice map[string]string `mapstructure:"creditPrice"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		Plans: []PlanConfig{
			{Tier: "free", CallsPerMonth: 10, StorageMB: 100, Seats: 1, MonthlyPrice: map[string]string{"INR": "0", "USD": "0"}},
			{Tier: "individual", CallsPerMonth: 100, StorageMB: 1024, Seats: 1, MonthlyPrice: map[string]string{"INR": "999", "USD": "12"}},
			{Tier: "team", CallsPerMonth: 500, StorageMB: 10240, Seats: 10, MonthlyPrice: map[string]string{"INR": "4999", "USD": "60"}},
			{Tier: "enterprise", CallsPerMonth: 5000, StorageMB: 102400, Seats: 100, MonthlyPrice: map[string]string{"INR": "19999", "USD": "240"}},
			{Tier: "pay_as_you_go", CallsPerMonth: 0, StorageMB: 5120, Seats: 5, MonthlyPrice: map[string]string{"INR": "0", "USD": "0"}},
		},
		AnnualDiscountPercent: 20,
		CreditPrice:           map[string]string{"INR": "4.50", "USD": "0.06"},
	}
}

type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

// NewStaticPlanCatalogHolder serves a fixed catalog. Used by tests and when no plans file exists.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func NewPlanCatalogHolder(cfg Config, log *zap.Logger) (*PlanCatalogHolder, error) {
	log = log.Named("config.plans")
	v := viper.New()

	if path := strings.TrimSpace(cfg.PlansFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/callsight")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CALLSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlanCatalog()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("plans file not found, using defaults")
		return NewStaticPlanCatalogHolder(defaults), nil
	}

	var catalog PlanCatalog
	if err := v.UnmarshalKey("catalog", &catalog); err != nil {
		return nil, err
	}
	if catalog.AnnualDiscountPercent == 0 {
		catalog.AnnualDiscountPercent = defaults.AnnualDiscountPercent
	}
	if len(catalog.CreditPrice) == 0 {
		catalog.CreditPrice = defaults.CreditPrice
	}
	if err := ValidatePlanCatalog(catalog); err != nil {
		return nil, err
	}

	holder := NewStaticPlanCatalogHolder(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanCatalog
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Warn("plan catalog reload failed", zap.Error(err))
			return
		}
		if updated.AnnualDiscountPercent == 0 {
			updated.AnnualDiscountPercent = defaults.AnnualDiscountPercent
		}
		if len(updated.CreditPrice) == 0 {
			updated.CreditPrice = defaults.CreditPrice
		}
		if err := ValidatePlanCatalog(updated); err != nil {
			log.Warn("invalid plan catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("plan catalog reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

// ValidatePlanCatalog requires every tier exactly once with non-negative allowances.
func ValidatePlanCatalog(catalog PlanCatalog) error {
	required := map[string]bool{
		"free":          false,
		"individual":    false,
		"team":          false,
		"enterprise":    false,
		"pay_as_you_go": false,
	}
	for _, plan := range catalog.Plans {
		tier := strings.ToLower(strings.TrimSpace(plan.Tier))
		seen, ok := required[tier]
		if !ok {
			return fmt.Errorf("catalog.plans: unknown tier %q", plan.Tier)
		}
		if seen {
			return fmt.Errorf("catalog.plans: duplicate tier %q", plan.Tier)
		}
		if plan.CallsPerMonth < 0 || plan.StorageMB < 0 || plan.Seats < 0 {
			return fmt.Errorf("catalog.plans: negative allowance for %q", plan.Tier)
		}
		required[tier] = true
	}
	for tier, seen := range required {
		if !seen {
			return fmt.Errorf("catalog.plans: missing tier %q", tier)
		}
	}
	if catalog.AnnualDiscountPercent < 0 || catalog.AnnualDiscountPercent >= 100 {
		return errors.New("catalog.annualDiscountPercent must be within [0, 100)")
	}
	for currency, raw := range catalog.CreditPrice {
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("catalog.creditPrice: %s must be a positive amount, got %q", currency, raw)
		}
	}
	return nil
}

// Plan looks up a tier, case-insensitively.
func (c PlanCatalog) Plan(tier string) (PlanConfig, bool) {
	tier = strings.ToLower(strings.TrimSpace(tier))
	for _, plan := range c.Plans {
		if strings.ToLower(strings.TrimSpace(plan.Tier)) == tier {
			return plan, true
		}
	}
	return PlanConfig{}, false
}

// CreditPriceFor returns the unit credit price for currency.
func (c PlanCatalog) CreditPriceFor(currency string) (decimal.Decimal, bool) {
	for key, raw := range c.CreditPrice {
		if !strings.EqualFold(key, currency) {
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !price.IsPositive() {
			return decimal.Zero, false
		}
		return price, true
	}
	return decimal.Zero, false
}

// MonthlyPriceFor returns the list price for currency, e.g. "999" for INR.
func (p PlanConfig) MonthlyPriceFor(currency string) (string, bool) {
	for key, price := range p.MonthlyPrice {
		if strings.EqualFold(key, currency) {
			return price, true
		}
	}
	return "", false
}
