package service

import (
	"testing"

	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/internal/db"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testServices wires every service against one in-memory database.
type testServices struct {
	db         *gorm.DB
	storeRepo  repository.StoreRepository
	policyRepo repository.PolicyRepository
	auditRepo  repository.AuditRepository
	jobRepo    repository.ImportJobRepository
	audit      AuditService
	pricing    PricingService
	lifecycle  LifecycleService
	policies   PolicyService
	processor  FileProcessor
}

func setupServices(t *testing.T) *testServices {
	t.Helper()

	testDB, err := db.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.CleanupTestDB(testDB) })

	s := &testServices{
		db:         testDB,
		storeRepo:  repository.NewStoreRepository(testDB),
		policyRepo: repository.NewPolicyRepository(testDB),
		auditRepo:  repository.NewAuditRepository(testDB),
		jobRepo:    repository.NewImportJobRepository(testDB),
	}
	s.audit = NewAuditService(s.auditRepo)
	s.pricing = NewPricingService(db.DefaultPricingConfigs(), PricingOptions{})
	s.lifecycle = NewLifecycleService(s.storeRepo, s.audit)
	s.policies = NewPolicyService(s.policyRepo, s.pricing, s.audit)
	s.processor = NewFileProcessor(FileProcessorOptions{})
	return s
}
