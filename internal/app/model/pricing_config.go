package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingConfig is one row of the rate table. Several rows may exist per
// coverage type; the one whose window contains the calculation date applies.
type PricingConfig struct {
	ID                uint            `gorm:"primarykey" json:"id"`
	CoverageType      CoverageType    `gorm:"type:varchar(30);not null;index" json:"coverage_type"`
	RatePerUnit       decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"rate_per_unit"`
	MinimumPremium    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"minimum_premium"`
	MaximumInsuredSum decimal.Decimal `gorm:"type:decimal(16,2);not null" json:"maximum_insured_sum"`
	EffectiveFrom     time.Time       `gorm:"not null" json:"effective_from"`
	EffectiveTo       *time.Time      `json:"effective_to"` // nil = open-ended
	Description       string          `gorm:"type:text" json:"description"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (PricingConfig) TableName() string {
	return "pricing_configs"
}

// Covers reports whether asOf falls inside [EffectiveFrom, EffectiveTo].
func (p PricingConfig) Covers(asOf time.Time) bool {
	if asOf.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || !asOf.After(*p.EffectiveTo)
}
