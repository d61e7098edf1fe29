package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

var (
	ErrNoActiveConfig   = errors.New("no active pricing config")
	ErrInvalidFloorArea = errors.New("floor area must be a positive number")
)

// DefaultValuationMultiplier is the insured value per square metre.
const DefaultValuationMultiplier = 1000

type PricingOptions struct {
	ValuationMultiplier float64
}

type PricingBreakdown struct {
	FloorArea      decimal.Decimal `json:"floor_area"`
	RatePerUnit    decimal.Decimal `json:"rate_per_unit"`
	BasePremium    decimal.Decimal `json:"base_premium"`
	MinimumPremium decimal.Decimal `json:"minimum_premium"`
	Adjustments    decimal.Decimal `json:"adjustments"` // minimum-premium uplift, never negative
	ConfigID       uint            `json:"config_id"`
}

type PricingResult struct {
	StoreCode    string             `json:"store_code"`
	CoverageType model.CoverageType `json:"coverage_type"`
	Premium      decimal.Decimal    `json:"premium"`
	InsuredSum   decimal.Decimal    `json:"insured_sum"`
	Breakdown    PricingBreakdown   `json:"breakdown"`
}

type PricingError struct {
	StoreCode    string             `json:"store_code"`
	CoverageType model.CoverageType `json:"coverage_type"`
	Message      string             `json:"message"`
}

type BulkPricingResult struct {
	Results map[string]PricingResult `json:"results"`
	Errors  []PricingError           `json:"errors"`
}

type PricingService interface {
	GetActiveConfig(coverageType model.CoverageType, asOf time.Time) (*model.PricingConfig, bool)
	Calculate(store *model.Store, coverageType model.CoverageType, asOf time.Time) (*PricingResult, error)
	CalculateBulk(stores []model.Store, coverageType model.CoverageType, asOf time.Time) BulkPricingResult
	ListConfigs() []model.PricingConfig
	ReloadConfigs(configs []model.PricingConfig)
}

type pricingService struct {
	mu         sync.RWMutex
	configs    []model.PricingConfig
	multiplier decimal.Decimal
}

func NewPricingService(configs []model.PricingConfig, opts PricingOptions) PricingService {
	multiplier := opts.ValuationMultiplier
	if multiplier <= 0 {
		multiplier = DefaultValuationMultiplier
	}

	s := &pricingService{multiplier: decimal.NewFromFloat(multiplier)}
	s.ReloadConfigs(configs)
	return s
}

func (s *pricingService) ReloadConfigs(configs []model.PricingConfig) {
	cp := make([]model.PricingConfig, len(configs))
	copy(cp, configs)

	s.mu.Lock()
	s.configs = cp
	s.mu.Unlock()

	logger.Info("Pricing configs loaded", map[string]interface{}{
		"count": len(cp),
	})
}

func (s *pricingService) ListConfigs() []model.PricingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := make([]model.PricingConfig, len(s.configs))
	copy(cp, s.configs)
	return cp
}

// GetActiveConfig returns the first config, in table order, matching the
// coverage type whose window contains asOf.
func (s *pricingService) GetActiveConfig(coverageType model.CoverageType, asOf time.Time) (*model.PricingConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.configs {
		cfg := s.configs[i]
		if cfg.CoverageType == coverageType && cfg.Covers(asOf) {
			return &cfg, true
		}
	}
	return nil, false
}

func (s *pricingService) Calculate(store *model.Store, coverageType model.CoverageType, asOf time.Time) (*PricingResult, error) {
	if store == nil || store.FloorArea <= 0 {
		return nil, ErrInvalidFloorArea
	}

	cfg, ok := s.GetActiveConfig(coverageType, asOf)
	if !ok {
		return nil, fmt.Errorf("%w for %s on %s", ErrNoActiveConfig, coverageType, asOf.Format("2006-01-02"))
	}

	area := decimal.NewFromFloat(store.FloorArea)

	base := area.Mul(cfg.RatePerUnit).Round(2)
	premium := decimal.Max(base, cfg.MinimumPremium).Round(2)
	insuredSum := decimal.Min(area.Mul(s.multiplier), cfg.MaximumInsuredSum).Round(2)

	return &PricingResult{
		StoreCode:    store.StoreCode,
		CoverageType: coverageType,
		Premium:      premium,
		InsuredSum:   insuredSum,
		Breakdown: PricingBreakdown{
			FloorArea:      area,
			RatePerUnit:    cfg.RatePerUnit,
			BasePremium:    base,
			MinimumPremium: cfg.MinimumPremium,
			Adjustments:    premium.Sub(base),
			ConfigID:       cfg.ID,
		},
	}, nil
}

// CalculateBulk never fails as a whole: every store ends up either in Results
// or in Errors.
func (s *pricingService) CalculateBulk(stores []model.Store, coverageType model.CoverageType, asOf time.Time) BulkPricingResult {
	out := BulkPricingResult{
		Results: make(map[string]PricingResult, len(stores)),
		Errors:  make([]PricingError, 0),
	}

	for i := range stores {
		store := &stores[i]
		result, err := s.Calculate(store, coverageType, asOf)
		if err != nil {
			out.Errors = append(out.Errors, PricingError{
				StoreCode:    store.StoreCode,
				CoverageType: coverageType,
				Message:      err.Error(),
			})
			continue
		}
		out.Results[store.StoreCode] = *result
	}

	if len(out.Errors) > 0 {
		logger.Warn("Bulk pricing finished with errors", map[string]interface{}{
			"coverage_type": coverageType,
			"stores":        len(stores),
			"errors":        len(out.Errors),
		})
	}
	return out
}
