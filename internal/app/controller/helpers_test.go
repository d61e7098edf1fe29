package controller

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/internal/app/service"
	"github.com/ikkim/storecover-backend/internal/db"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testCaller struct {
	userID    string
	email     string
	role      model.UserRole
	sessionID string
}

var brokerCaller = testCaller{
	userID:    "u-broker",
	email:     "broker@example.com",
	role:      model.RoleBroker,
	sessionID: "sess-1",
}

type testEnv struct {
	db         *gorm.DB
	pricingCfg repository.PricingConfigRepository
	pricing    service.PricingService
	lifecycle  service.LifecycleService
	policies   service.PolicyService
	queue      service.ImportQueue
	sessions   service.SessionService
}

func setupControllerEnv(t *testing.T) *testEnv {
	t.Helper()

	testDB, err := db.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.CleanupTestDB(testDB) })

	pricingRepo := repository.NewPricingConfigRepository(testDB)
	for _, cfg := range db.DefaultPricingConfigs() {
		cfg := cfg
		require.NoError(t, pricingRepo.Create(&cfg))
	}
	configs, err := pricingRepo.FindAll()
	require.NoError(t, err)

	audit := service.NewAuditService(repository.NewAuditRepository(testDB))
	pricing := service.NewPricingService(configs, service.PricingOptions{})
	lifecycle := service.NewLifecycleService(repository.NewStoreRepository(testDB), audit)
	policies := service.NewPolicyService(repository.NewPolicyRepository(testDB), pricing, audit)
	queue := service.NewImportQueue(
		repository.NewImportJobRepository(testDB),
		service.NewFileProcessor(service.FileProcessorOptions{}),
		lifecycle,
		policies,
		service.ImportQueueOptions{ContentGraceDelay: -1},
	)
	t.Cleanup(queue.Stop)

	return &testEnv{
		db:         testDB,
		pricingCfg: pricingRepo,
		pricing:    pricing,
		lifecycle:  lifecycle,
		policies:   policies,
		queue:      queue,
		sessions:   service.NewSessionService(queue, lifecycle, policies),
	}
}

// newTestRouter stands in for the auth middleware by setting the caller directly.
func newTestRouter(caller testCaller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", caller.userID)
		c.Set("user_email", caller.email)
		c.Set("user_role", caller.role)
		c.Set("session_id", caller.sessionID)
		c.Next()
	})
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
