package repository

import (
	"github.com/ikkim/storecover-backend/internal/app/model"
	"gorm.io/gorm"
)

type PricingConfigRepository interface {
	FindAll() ([]model.PricingConfig, error)
	Create(cfg *model.PricingConfig) error
}

type pricingConfigRepository struct {
	db *gorm.DB
}

func NewPricingConfigRepository(db *gorm.DB) PricingConfigRepository {
	return &pricingConfigRepository{db: db}
}

// FindAll keeps table order (by id) because the pricing engine picks the first match.
func (r *pricingConfigRepository) FindAll() ([]model.PricingConfig, error) {
	var configs []model.PricingConfig
	if err := r.db.Order("id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *pricingConfigRepository) Create(cfg *model.PricingConfig) error {
	return r.db.Create(cfg).Error
}
