package db

import (
	"time"

	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&model.Store{},
		&model.PricingConfig{},
		&model.Policy{},
		&model.Certificate{},
		&model.AuditLog{},
		&model.ImportJob{},
	}
}

// Migrate runs database migrations
func Migrate() error {
	logger.Info("Running database migrations...")

	models := Models()
	if err := DB.AutoMigrate(models...); err != nil {
		logger.Error("Failed to run migrations", err)
		return err
	}

	logger.Info("Database migrations completed successfully", map[string]interface{}{
		"models_count": len(models),
	})
	return nil
}

// Seed adds the default rate table when none exists.
func Seed() error {
	return SeedPricingConfigs(DB)
}

// DefaultPricingConfigs is the rate table installed on an empty database.
func DefaultPricingConfigs() []model.PricingConfig {
	from := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return []model.PricingConfig{
		{
			CoverageType:      model.CoverageNaturalCatastrophe,
			RatePerUnit:       decimal.RequireFromString("1.20"),
			MinimumPremium:    decimal.RequireFromString("250.00"),
			MaximumInsuredSum: decimal.RequireFromString("2500000.00"),
			EffectiveFrom:     from,
			Description:       "Catastrofi naturali - tariffa base",
		},
		{
			CoverageType:      model.CoverageProperty,
			RatePerUnit:       decimal.RequireFromString("0.85"),
			MinimumPremium:    decimal.RequireFromString("180.00"),
			MaximumInsuredSum: decimal.RequireFromString("2000000.00"),
			EffectiveFrom:     from,
			Description:       "Danni al patrimonio - tariffa base",
		},
		{
			CoverageType:      model.CoverageCombined,
			RatePerUnit:       decimal.RequireFromString("1.75"),
			MinimumPremium:    decimal.RequireFromString("400.00"),
			MaximumInsuredSum: decimal.RequireFromString("3000000.00"),
			EffectiveFrom:     from,
			Description:       "Combinata - tariffa base",
		},
	}
}

func SeedPricingConfigs(db *gorm.DB) error {
	var count int64
	if err := db.Model(&model.PricingConfig{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		logger.Info("Pricing configs already seeded, skipping...", map[string]interface{}{
			"existing_count": count,
		})
		return nil
	}

	configs := DefaultPricingConfigs()
	for i := range configs {
		if err := db.Create(&configs[i]).Error; err != nil {
			logger.Error("Failed to create pricing config", err, map[string]interface{}{
				"coverage_type": configs[i].CoverageType,
			})
			return err
		}
	}

	logger.Info("Pricing configs seeded successfully", map[string]interface{}{
		"total_records": len(configs),
	})
	return nil
}
