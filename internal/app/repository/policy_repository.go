package repository

import (
	"time"

	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"gorm.io/gorm"
)

type PolicyFilter struct {
	StoreCode    string
	Status       model.PolicyStatus
	CoverageType model.CoverageType
}

type PolicyRepository interface {
	Create(policy *model.Policy) error
	Update(policy *model.Policy) error
	FindByID(policyID string) (*model.Policy, error)
	FindActiveByStore(storeCode string) (*model.Policy, error)
	FindAll(filter PolicyFilter) ([]model.Policy, error)
	FindActiveEndingBy(asOf time.Time) ([]model.Policy, error)
	CreateCertificate(cert *model.Certificate) error
	FindCertificateByID(certID string) (*model.Certificate, error)
	FindCertificatesByPolicy(policyID string) ([]model.Certificate, error)
	DeleteAll() error
}

type policyRepository struct {
	db *gorm.DB
}

func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) Create(policy *model.Policy) error {
	logger.Debug("Creating policy in database", map[string]interface{}{
		"policy_id":  policy.PolicyID,
		"store_code": policy.StoreCode,
	})

	if err := r.db.Create(policy).Error; err != nil {
		logger.Error("Failed to create policy in database", err, map[string]interface{}{
			"policy_id": policy.PolicyID,
		})
		return err
	}
	return nil
}

func (r *policyRepository) Update(policy *model.Policy) error {
	if err := r.db.Save(policy).Error; err != nil {
		logger.Error("Failed to update policy in database", err, map[string]interface{}{
			"policy_id": policy.PolicyID,
		})
		return err
	}
	return nil
}

func (r *policyRepository) FindByID(policyID string) (*model.Policy, error) {
	var policy model.Policy
	if err := r.db.Where("policy_id = ?", policyID).First(&policy).Error; err != nil {
		return nil, err
	}
	return &policy, nil
}

// FindActiveByStore returns gorm.ErrRecordNotFound when the store has no active policy.
func (r *policyRepository) FindActiveByStore(storeCode string) (*model.Policy, error) {
	var policy model.Policy
	err := r.db.
		Where("store_code = ? AND status = ?", storeCode, model.PolicyStatusActive).
		Order("effective_from DESC").
		First(&policy).Error
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *policyRepository) FindAll(filter PolicyFilter) ([]model.Policy, error) {
	var policies []model.Policy

	query := r.db.Model(&model.Policy{})
	if filter.StoreCode != "" {
		query = query.Where("store_code = ?", filter.StoreCode)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CoverageType != "" {
		query = query.Where("coverage_type = ?", filter.CoverageType)
	}

	if err := query.Order("created_at DESC").Find(&policies).Error; err != nil {
		logger.Error("Failed to list policies", err)
		return nil, err
	}
	return policies, nil
}

// FindActiveEndingBy filters in Go so the comparison does not depend on how
// the driver stores timestamps.
func (r *policyRepository) FindActiveEndingBy(asOf time.Time) ([]model.Policy, error) {
	active, err := r.FindAll(PolicyFilter{Status: model.PolicyStatusActive})
	if err != nil {
		return nil, err
	}

	due := make([]model.Policy, 0)
	for _, p := range active {
		if !p.EffectiveTo.After(asOf) {
			due = append(due, p)
		}
	}
	return due, nil
}

func (r *policyRepository) CreateCertificate(cert *model.Certificate) error {
	if err := r.db.Create(cert).Error; err != nil {
		logger.Error("Failed to create certificate in database", err, map[string]interface{}{
			"cert_id":   cert.CertID,
			"policy_id": cert.PolicyID,
		})
		return err
	}
	return nil
}

func (r *policyRepository) FindCertificateByID(certID string) (*model.Certificate, error) {
	var cert model.Certificate
	if err := r.db.Where("cert_id = ?", certID).First(&cert).Error; err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *policyRepository) FindCertificatesByPolicy(policyID string) ([]model.Certificate, error) {
	var certs []model.Certificate
	if err := r.db.Where("policy_id = ?", policyID).Order("issue_date DESC").Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

func (r *policyRepository) DeleteAll() error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.Certificate{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&model.Policy{}).Error
	})
}
