package service

import (
	"time"

	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/pkg/logger"
)

// SystemActor is recorded as PerformedBy when no user is attached to the call.
const SystemActor = "system"

type AuditRecord struct {
	Action      model.AuditAction
	EntityType  model.AuditEntityType
	EntityID    string
	Previous    interface{}
	Next        interface{}
	PerformedBy string
	Metadata    map[string]interface{}
}

type AuditService interface {
	Record(rec AuditRecord) error
	History(entityType model.AuditEntityType, entityID string) ([]model.AuditLog, error)
	Recent(limit int) ([]model.AuditLog, error)
	PruneBefore(cutoff time.Time) (int64, error)
	Clear() error
}

type auditService struct {
	repo repository.AuditRepository
}

func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

func (s *auditService) Record(rec AuditRecord) error {
	actor := rec.PerformedBy
	if actor == "" {
		actor = SystemActor
	}

	entry := &model.AuditLog{
		Action:        rec.Action,
		EntityType:    rec.EntityType,
		EntityID:      rec.EntityID,
		PreviousState: model.ToJSON(rec.Previous),
		NewState:      model.ToJSON(rec.Next),
		PerformedBy:   actor,
		Metadata:      model.ToJSON(rec.Metadata),
	}
	return s.repo.Append(entry)
}

func (s *auditService) History(entityType model.AuditEntityType, entityID string) ([]model.AuditLog, error) {
	return s.repo.FindByEntity(entityType, entityID)
}

func (s *auditService) Recent(limit int) ([]model.AuditLog, error) {
	return s.repo.FindRecent(limit)
}

func (s *auditService) PruneBefore(cutoff time.Time) (int64, error) {
	n, err := s.repo.DeleteBefore(cutoff)
	if err != nil {
		logger.Error("Failed to prune audit log", err, map[string]interface{}{
			"cutoff": cutoff,
		})
		return 0, err
	}
	if n > 0 {
		logger.Info("Audit log pruned", map[string]interface{}{
			"cutoff":  cutoff,
			"removed": n,
		})
	}
	return n, nil
}

func (s *auditService) Clear() error {
	return s.repo.DeleteAll()
}
