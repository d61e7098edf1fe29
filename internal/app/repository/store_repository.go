package repository

import (
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"gorm.io/gorm"
)

type StoreFilter struct {
	Status model.StoreStatus
	Search string
}

type StoreRepository interface {
	Create(store *model.Store) error
	Update(store *model.Store) error
	FindByCode(code string) (*model.Store, error)
	FindAll(filter StoreFilter) ([]model.Store, error)
	CountByStatus() (map[model.StoreStatus]int64, error)
	DeleteAll() error
}

type storeRepository struct {
	db *gorm.DB
}

func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepository{db: db}
}

func (r *storeRepository) Create(store *model.Store) error {
	logger.Debug("Creating store in database", map[string]interface{}{
		"store_code": store.StoreCode,
		"status":     store.Status,
	})

	if err := r.db.Create(store).Error; err != nil {
		logger.Error("Failed to create store in database", err, map[string]interface{}{
			"store_code": store.StoreCode,
		})
		return err
	}
	return nil
}

// Update writes every column, so nil dates are persisted as NULL.
func (r *storeRepository) Update(store *model.Store) error {
	logger.Debug("Updating store in database", map[string]interface{}{
		"store_code": store.StoreCode,
		"status":     store.Status,
	})

	if err := r.db.Save(store).Error; err != nil {
		logger.Error("Failed to update store in database", err, map[string]interface{}{
			"store_code": store.StoreCode,
		})
		return err
	}
	return nil
}

func (r *storeRepository) FindByCode(code string) (*model.Store, error) {
	var store model.Store
	if err := r.db.Where("store_code = ?", code).First(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *storeRepository) FindAll(filter StoreFilter) ([]model.Store, error) {
	var stores []model.Store

	query := r.db.Model(&model.Store{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("store_code LIKE ? OR business_name LIKE ? OR address LIKE ?", like, like, like)
	}

	if err := query.Order("store_code ASC").Find(&stores).Error; err != nil {
		logger.Error("Failed to list stores", err, map[string]interface{}{
			"status": filter.Status,
		})
		return nil, err
	}
	return stores, nil
}

func (r *storeRepository) CountByStatus() (map[model.StoreStatus]int64, error) {
	var rows []struct {
		Status model.StoreStatus
		Count  int64
	}
	if err := r.db.Model(&model.Store{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[model.StoreStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *storeRepository) DeleteAll() error {
	return r.db.Where("1 = 1").Delete(&model.Store{}).Error
}
