package repository

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"gorm.io/gorm"
)

type AuditRepository interface {
	Append(entry *model.AuditLog) error
	FindByEntity(entityType model.AuditEntityType, entityID string) ([]model.AuditLog, error)
	FindRecent(limit int) ([]model.AuditLog, error)
	DeleteBefore(cutoff time.Time) (int64, error)
	DeleteAll() error
}

// auditRepository hands out a monotonic sequence so entries written within
// the same clock tick still have a stable order.
type auditRepository struct {
	db     *gorm.DB
	mu     sync.Mutex
	seq    int64
	loaded bool
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		row := r.db.Model(&model.AuditLog{}).Select("COALESCE(MAX(sequence), 0)").Row()
		if err := row.Scan(&r.seq); err != nil {
			return err
		}
		r.loaded = true
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Sequence = r.seq + 1

	if err := r.db.Create(entry).Error; err != nil {
		logger.Error("Failed to append audit entry", err, map[string]interface{}{
			"action":    entry.Action,
			"entity_id": entry.EntityID,
		})
		return err
	}
	r.seq = entry.Sequence
	return nil
}

func (r *auditRepository) FindByEntity(entityType model.AuditEntityType, entityID string) ([]model.AuditLog, error) {
	var entries []model.AuditLog
	err := r.db.
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("sequence ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *auditRepository) FindRecent(limit int) ([]model.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []model.AuditLog
	if err := r.db.Order("sequence DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *auditRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	result := r.db.Where("timestamp < ?", cutoff).Delete(&model.AuditLog{})
	return result.RowsAffected, result.Error
}

func (r *auditRepository) DeleteAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Where("1 = 1").Delete(&model.AuditLog{}).Error; err != nil {
		return err
	}
	r.seq = 0
	r.loaded = true
	return nil
}
