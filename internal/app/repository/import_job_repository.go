package repository

import (
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"gorm.io/gorm"
)

type ImportJobRepository interface {
	Create(job *model.ImportJob) error
	UpdateState(job *model.ImportJob) error
	FindByID(jobID string) (*model.ImportJob, error)
	FindAll() ([]model.ImportJob, error)
	Delete(jobID string) error
	DeleteByIDs(jobIDs []string) error
	ClearContent(jobID string) error
	Count() (int64, error)
	MaxSequence() (int64, error)
	DeleteAll() error
}

type importJobRepository struct {
	db *gorm.DB
}

func NewImportJobRepository(db *gorm.DB) ImportJobRepository {
	return &importJobRepository{db: db}
}

func (r *importJobRepository) Create(job *model.ImportJob) error {
	if err := r.db.Create(job).Error; err != nil {
		logger.Error("Failed to create import job in database", err, map[string]interface{}{
			"job_id":   job.JobID,
			"filename": job.Filename,
		})
		return err
	}
	return nil
}

// UpdateState writes the processing columns only. Content is owned by
// Create and ClearContent.
func (r *importJobRepository) UpdateState(job *model.ImportJob) error {
	err := r.db.Model(&model.ImportJob{}).
		Where("job_id = ?", job.JobID).
		Updates(map[string]interface{}{
			"status":        job.Status,
			"progress":      job.Progress,
			"result":        job.Result,
			"error_message": job.ErrorMessage,
			"started_at":    job.StartedAt,
			"completed_at":  job.CompletedAt,
		}).Error
	if err != nil {
		logger.Error("Failed to update import job state", err, map[string]interface{}{
			"job_id": job.JobID,
			"status": job.Status,
		})
	}
	return err
}

func (r *importJobRepository) FindByID(jobID string) (*model.ImportJob, error) {
	var job model.ImportJob
	if err := r.db.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// FindAll returns jobs newest first.
func (r *importJobRepository) FindAll() ([]model.ImportJob, error) {
	var jobs []model.ImportJob
	if err := r.db.Order("sequence DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *importJobRepository) Delete(jobID string) error {
	return r.db.Where("job_id = ?", jobID).Delete(&model.ImportJob{}).Error
}

func (r *importJobRepository) DeleteByIDs(jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	return r.db.Where("job_id IN ?", jobIDs).Delete(&model.ImportJob{}).Error
}

func (r *importJobRepository) ClearContent(jobID string) error {
	return r.db.Model(&model.ImportJob{}).
		Where("job_id = ?", jobID).
		Update("content", "").Error
}

func (r *importJobRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.ImportJob{}).Count(&count).Error
	return count, err
}

func (r *importJobRepository) MaxSequence() (int64, error) {
	var max int64
	row := r.db.Model(&model.ImportJob{}).Select("COALESCE(MAX(sequence), 0)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (r *importJobRepository) DeleteAll() error {
	return r.db.Where("1 = 1").Delete(&model.ImportJob{}).Error
}
