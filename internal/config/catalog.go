package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CatalogConfig is the file-backed plan catalog and credit cost table.
type CatalogConfig struct {
	Plans       []PlanConfig     `mapstructure:"plans"`
	CreditCosts map[string]int64 `mapstructure:"creditCosts"`
}

type PlanConfig struct {
	Tier            string   `mapstructure:"tier"`
	Name            string   `mapstructure:"name"`
	PriceID         string   `mapstructure:"priceId"`
	Credits         int64    `mapstructure:"credits"`
	CreditsPerMonth int64    `mapstructure:"creditsPerMonth"`
	Price           int64    `mapstructure:"price"`
	Features        []string `mapstructure:"features"`
}

func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Plans: []PlanConfig{
			{
				Tier:            "FREE",
				Name:            "Free Plan",
				Credits:         20,
				CreditsPerMonth: 10,
				Price:           0,
				Features:        []string{"20 initial credits", "10 credits per month", "Basic AI generation", "Limited exports"},
			},
			{
				Tier:            "BASIC",
				Name:            "Basic Plan",
				Credits:         100,
				CreditsPerMonth: 100,
				Price:           99,
				Features:        []string{"100 credits per month", "AI-powered product generation", "Image search & generation", "Basic video search"},
			},
			{
				Tier:            "PRO",
				Name:            "Pro Plan",
				Credits:         500,
				CreditsPerMonth: 500,
				Price:           299,
				Features:        []string{"500 credits per month", "Advanced AI generation", "AI writing style adaptation", "AI video creation", "Priority support"},
			},
			{
				Tier:            "ENTERPRISE",
				Name:            "Enterprise Plan",
				Credits:         2000,
				CreditsPerMonth: 2000,
				Price:           499,
				Features:        []string{"2000 credits per month", "All Pro features", "Custom AI training", "API access"},
			},
		},
		CreditCosts: map[string]int64{
			"GENERATE_TITLE":       1,
			"GENERATE_DESCRIPTION": 2,
			"GENERATE_SEO":         1,
			"DETECT_CATEGORY":      1,
			"IMAGE_SEARCH":         2,
			"IMAGE_GENERATION":     5,
			"VIDEO_SEARCH":         2,
			"VIDEO_GENERATION":     10,
			"STYLE_ADAPTATION":     3,
			"KEYWORD_GENERATION":   1,
		},
	}
}

type CatalogHolder struct {
	current atomic.Value // holds CatalogConfig
}

func NewCatalogHolder(log *zap.Logger) (*CatalogHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("catalog.config")

	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/creditledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultCatalogConfig()
	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}
	if fileFound {
		loaded, err := decodeCatalog(v)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg = normalizeCatalog(cfg)
	if err := validateCatalog(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticCatalogHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCatalog(v)
		if err != nil {
			log.Warn("catalog reload failed", zap.Error(err))
			return
		}
		updated = normalizeCatalog(updated)
		if err := validateCatalog(updated); err != nil {
			log.Warn("invalid catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticCatalogHolder wraps a fixed catalog, mostly for tests.
func NewStaticCatalogHolder(cfg CatalogConfig) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(normalizeCatalog(cfg))
	return holder
}

func (h *CatalogHolder) Get() CatalogConfig {
	return h.current.Load().(CatalogConfig)
}

// Cost returns the credit cost of an action kind.
func (h *CatalogHolder) Cost(action string) (int64, bool) {
	cost, ok := h.Get().CreditCosts[strings.ToUpper(strings.TrimSpace(action))]
	return cost, ok
}

func decodeCatalog(v *viper.Viper) (CatalogConfig, error) {
	var cfg CatalogConfig
	if err := v.UnmarshalKey("catalog", &cfg); err != nil {
		return CatalogConfig{}, err
	}
	defaults := DefaultCatalogConfig()
	if len(cfg.Plans) == 0 {
		cfg.Plans = defaults.Plans
	}
	if len(cfg.CreditCosts) == 0 {
		cfg.CreditCosts = defaults.CreditCosts
	}
	return cfg, nil
}

// normalizeCatalog upper-cases tiers and action keys (viper lower-cases map keys)
// and applies STRIPE_PRICE_<TIER> overrides.
func normalizeCatalog(cfg CatalogConfig) CatalogConfig {
	plans := make([]PlanConfig, 0, len(cfg.Plans))
	for _, p := range cfg.Plans {
		p.Tier = strings.ToUpper(strings.TrimSpace(p.Tier))
		p.PriceID = strings.TrimSpace(p.PriceID)
		if override := strings.TrimSpace(os.Getenv("STRIPE_PRICE_" + p.Tier)); override != "" {
			p.PriceID = override
		}
		plans = append(plans, p)
	}
	costs := make(map[string]int64, len(cfg.CreditCosts))
	for action, cost := range cfg.CreditCosts {
		costs[strings.ToUpper(strings.TrimSpace(action))] = cost
	}
	return CatalogConfig{Plans: plans, CreditCosts: costs}
}

func validateCatalog(cfg CatalogConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("catalog.plans cannot be empty")
	}
	seen := map[string]struct{}{}
	hasFree := false
	for _, p := range cfg.Plans {
		if p.Tier == "" {
			return errors.New("catalog.plans tier is required")
		}
		if _, ok := seen[p.Tier]; ok {
			return fmt.Errorf("catalog.plans duplicate tier %s", p.Tier)
		}
		seen[p.Tier] = struct{}{}
		if p.Credits < 0 || p.CreditsPerMonth < 0 || p.Price < 0 {
			return fmt.Errorf("catalog.plans %s has negative amounts", p.Tier)
		}
		if p.Tier == "FREE" {
			hasFree = true
			if p.PriceID != "" {
				return errors.New("catalog.plans FREE must not carry a price id")
			}
		}
	}
	if !hasFree {
		return errors.New("catalog.plans must define FREE")
	}
	for action, cost := range cfg.CreditCosts {
		if cost <= 0 {
			return fmt.Errorf("catalog.creditCosts %s must be positive", action)
		}
	}
	return nil
}
