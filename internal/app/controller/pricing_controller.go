package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/internal/app/service"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	"github.com/ikkim/storecover-backend/internal/middleware"
	"github.com/shopspring/decimal"
)

type PricingController struct {
	pricing   service.PricingService
	lifecycle service.LifecycleService
	repo      repository.PricingConfigRepository
}

func NewPricingController(pricing service.PricingService, lifecycle service.LifecycleService, repo repository.PricingConfigRepository) *PricingController {
	return &PricingController{
		pricing:   pricing,
		lifecycle: lifecycle,
		repo:      repo,
	}
}

// QuoteRequest prices either a registered store or a bare floor area.
type QuoteRequest struct {
	StoreCode    string             `json:"store_code"`
	FloorArea    float64            `json:"floor_area"`
	CoverageType model.CoverageType `json:"coverage_type" binding:"required"`
	AsOf         string             `json:"as_of"`
}

type CreatePricingConfigRequest struct {
	CoverageType      model.CoverageType `json:"coverage_type" binding:"required"`
	RatePerUnit       decimal.Decimal    `json:"rate_per_unit"`
	MinimumPremium    decimal.Decimal    `json:"minimum_premium"`
	MaximumInsuredSum decimal.Decimal    `json:"maximum_insured_sum"`
	EffectiveFrom     string             `json:"effective_from" binding:"required"`
	EffectiveTo       string             `json:"effective_to"`
	Description       string             `json:"description"`
}

// GET /api/v1/pricing/configs
func (ctrl *PricingController) ListConfigs(c *gin.Context) {
	configs := ctrl.pricing.ListConfigs()
	c.JSON(http.StatusOK, gin.H{
		"configs": configs,
		"count":   len(configs),
	})
}

// POST /api/v1/pricing/quote
func (ctrl *PricingController) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, apperrors.ValidationInvalidInput, "coverage_type is required")
		return
	}
	if !req.CoverageType.Valid() {
		apperrors.ParseAndRespond(c, service.ErrInvalidCoverageType, "pricing")
		return
	}

	asOf := time.Now()
	if req.AsOf != "" {
		t, err := parseDate(req.AsOf)
		if err != nil {
			apperrors.BadRequest(c, apperrors.ValidationInvalidFormat, "as_of must be YYYY-MM-DD or RFC3339")
			return
		}
		asOf = t
	}

	store := &model.Store{StoreCode: "QUOTE", FloorArea: req.FloorArea}
	if req.StoreCode != "" {
		s, err := ctrl.lifecycle.GetStore(req.StoreCode)
		if err != nil {
			apperrors.ParseAndRespond(c, err, "store")
			return
		}
		store = s
	}

	result, err := ctrl.pricing.Calculate(store, req.CoverageType, asOf)
	if err != nil {
		apperrors.ParseAndRespond(c, err, "pricing")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quote": result,
	})
}

// CreateConfig adds a rate table row and reloads the engine
// POST /api/v1/pricing/configs
func (ctrl *PricingController) CreateConfig(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	var req CreatePricingConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, apperrors.ValidationInvalidInput, "coverage_type and effective_from are required")
		return
	}
	if !req.CoverageType.Valid() {
		apperrors.ParseAndRespond(c, service.ErrInvalidCoverageType, "pricing")
		return
	}
	if !req.RatePerUnit.IsPositive() || !req.MaximumInsuredSum.IsPositive() || req.MinimumPremium.IsNegative() {
		apperrors.BadRequest(c, apperrors.ValidationInvalidRange, "rate_per_unit and maximum_insured_sum must be positive")
		return
	}

	from, err := parseDate(req.EffectiveFrom)
	if err != nil {
		apperrors.BadRequest(c, apperrors.ValidationInvalidFormat, "effective_from must be YYYY-MM-DD or RFC3339")
		return
	}
	cfg := &model.PricingConfig{
		CoverageType:      req.CoverageType,
		RatePerUnit:       req.RatePerUnit,
		MinimumPremium:    req.MinimumPremium,
		MaximumInsuredSum: req.MaximumInsuredSum,
		EffectiveFrom:     from,
		Description:       req.Description,
	}
	if req.EffectiveTo != "" {
		to, err := parseDate(req.EffectiveTo)
		if err != nil || to.Before(from) {
			apperrors.BadRequest(c, apperrors.ValidationInvalidRange, "effective_to must be a date on or after effective_from")
			return
		}
		cfg.EffectiveTo = &to
	}

	if err := ctrl.repo.Create(cfg); err != nil {
		log.Error("Failed to store pricing config", err)
		apperrors.ParseAndRespond(c, err, "pricing")
		return
	}
	if err := ctrl.reload(); err != nil {
		log.Error("Failed to reload pricing configs", err)
		apperrors.ParseAndRespond(c, err, "pricing")
		return
	}

	log.Info("Pricing config added", map[string]interface{}{
		"config_id":     cfg.ID,
		"coverage_type": cfg.CoverageType,
	})

	c.JSON(http.StatusCreated, gin.H{
		"config": cfg,
	})
}

// ReloadConfigs re-reads the rate table from the database
// POST /api/v1/pricing/reload
func (ctrl *PricingController) ReloadConfigs(c *gin.Context) {
	if err := ctrl.reload(); err != nil {
		apperrors.ParseAndRespond(c, err, "pricing")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(ctrl.pricing.ListConfigs()),
	})
}

func (ctrl *PricingController) reload() error {
	configs, err := ctrl.repo.FindAll()
	if err != nil {
		return err
	}
	ctrl.pricing.ReloadConfigs(configs)
	return nil
}
