package controller

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/internal/app/service"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	"github.com/ikkim/storecover-backend/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	keys []string
	err  error
}

func (f *fakePresigner) PresignDownload(ctx context.Context, key string) (*storage.PresignedURLResponse, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return &storage.PresignedURLResponse{
		URL:       "https://bucket.example.com/" + key + "?sig=1",
		Method:    http.MethodGet,
		Key:       key,
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

func setupPolicyControllerTest(t *testing.T, presigner Presigner) (*gin.Engine, *testEnv) {
	env := setupControllerEnv(t)
	ctrl := NewPolicyController(env.policies, env.lifecycle, presigner)

	router := newTestRouter(brokerCaller)
	router.GET("/policies", ctrl.ListPolicies)
	router.GET("/policies/:id", ctrl.GetPolicy)
	router.POST("/policies", ctrl.CreatePolicy)
	router.POST("/policies/:id/cancel", ctrl.CancelPolicy)
	router.POST("/policies/:id/renew", ctrl.RenewPolicy)
	router.POST("/policies/:id/certificates", ctrl.IssueCertificate)
	router.GET("/policies/:id/certificates", ctrl.ListCertificates)
	router.GET("/certificates/:id/download", ctrl.DownloadCertificate)
	router.GET("/portfolio/summary", ctrl.GetPortfolioSummary)

	_, err := env.lifecycle.CreateStore(service.StoreInput{StoreCode: "S1", FloorArea: 1000}, "tester")
	require.NoError(t, err)
	_, err = env.lifecycle.CreateStore(service.StoreInput{StoreCode: "S2", FloorArea: 100}, "tester")
	require.NoError(t, err)
	return router, env
}

func createPolicy(t *testing.T, router *gin.Engine, code, coverage string) map[string]interface{} {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/policies", gin.H{
		"store_code":     code,
		"coverage_type":  coverage,
		"effective_from": "2025-03-01",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody(t, w)["policy"].(map[string]interface{})
}

func decimalField(t *testing.T, m map[string]interface{}, key string) decimal.Decimal {
	t.Helper()
	s, ok := m[key].(string)
	require.True(t, ok, "%s should be a decimal string", key)
	return decimal.RequireFromString(s)
}

func TestPolicyController_CreatePolicy(t *testing.T) {
	router, _ := setupPolicyControllerTest(t, nil)

	policy := createPolicy(t, router, "S1", "property")
	assert.Equal(t, "S1", policy["store_code"])
	assert.Equal(t, "active", policy["status"])
	assert.True(t, decimal.NewFromInt(850).Equal(decimalField(t, policy, "premium")))
	assert.True(t, decimal.NewFromInt(1000000).Equal(decimalField(t, policy, "insured_sum")))

	// one active policy per store
	w := doJSON(t, router, http.MethodPost, "/policies", gin.H{"store_code": "S1", "coverage_type": "combined"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.PolicyActiveExists, decodeBody(t, w)["error"])
}

func TestPolicyController_CreatePolicyErrors(t *testing.T) {
	router, _ := setupPolicyControllerTest(t, nil)

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   string
	}{
		{"missing coverage", gin.H{"store_code": "S1"}, http.StatusBadRequest, apperrors.ValidationInvalidInput},
		{"unknown store", gin.H{"store_code": "nope", "coverage_type": "property"}, http.StatusNotFound, apperrors.StoreNotFound},
		{"unknown coverage", gin.H{"store_code": "S1", "coverage_type": "flood"}, http.StatusBadRequest, apperrors.PolicyInvalidCoverage},
		{"bad date", gin.H{"store_code": "S1", "coverage_type": "property", "effective_from": "01/03/2025"}, http.StatusBadRequest, apperrors.ValidationInvalidFormat},
		{"before any rate", gin.H{"store_code": "S1", "coverage_type": "property", "effective_from": "2020-01-01"}, http.StatusUnprocessableEntity, apperrors.PricingNoActiveConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/policies", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeBody(t, w)["error"])
		})
	}
}

func TestPolicyController_ListAndGet(t *testing.T) {
	router, _ := setupPolicyControllerTest(t, nil)
	p1 := createPolicy(t, router, "S1", "property")
	createPolicy(t, router, "S2", "combined")

	w := doJSON(t, router, http.MethodGet, "/policies", nil)
	assert.Equal(t, float64(2), decodeBody(t, w)["count"])

	w = doJSON(t, router, http.MethodGet, "/policies?coverage_type=combined", nil)
	resp := decodeBody(t, w)
	require.Equal(t, float64(1), resp["count"])
	assert.Equal(t, "S2", resp["policies"].([]interface{})[0].(map[string]interface{})["store_code"])

	w = doJSON(t, router, http.MethodGet, "/policies/"+p1["policy_id"].(string), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, p1["policy_id"], decodeBody(t, w)["policy"].(map[string]interface{})["policy_id"])

	w = doJSON(t, router, http.MethodGet, "/policies/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.PolicyNotFound, decodeBody(t, w)["error"])
}

func TestPolicyController_CancelPolicy(t *testing.T) {
	router, _ := setupPolicyControllerTest(t, nil)
	policy := createPolicy(t, router, "S1", "property")
	path := "/policies/" + policy["policy_id"].(string) + "/cancel"

	w := doJSON(t, router, http.MethodPost, path, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, path, gin.H{"reason": "store closed"})
	assert.Equal(t, http.StatusOK, w.Code)
	cancelled := decodeBody(t, w)["policy"].(map[string]interface{})
	assert.Equal(t, "cancelled", cancelled["status"])
	assert.Equal(t, "store closed", cancelled["cancellation_reason"])

	w = doJSON(t, router, http.MethodPost, path, gin.H{"reason": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.PolicyAlreadyCancelled, decodeBody(t, w)["error"])
}

func TestPolicyController_RenewPolicy(t *testing.T) {
	router, _ := setupPolicyControllerTest(t, nil)
	policy := createPolicy(t, router, "S1", "property")
	id := policy["policy_id"].(string)

	w := doJSON(t, router, http.MethodPost, "/policies/"+id+"/renew", gin.H{"duration_months": 6})
	assert.Equal(t, http.StatusCreated, w.Code)
	renewed := decodeBody(t, w)["policy"].(map[string]interface{})
	assert.Equal(t, id, renewed["previous_policy_id"])
	previousEnd, err := time.Parse(time.RFC3339, policy["effective_to"].(string))
	require.NoError(t, err)
	renewedStart, err := time.Parse(time.RFC3339, renewed["effective_from"].(string))
	require.NoError(t, err)
	assert.True(t, previousEnd.Equal(renewedStart))
	assert.Equal(t, "active", renewed["status"])

	// the original is no longer active
	w = doJSON(t, router, http.MethodPost, "/policies/"+id+"/renew", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.PolicyNotActive, decodeBody(t, w)["error"])
}

func TestPolicyController_Certificates(t *testing.T) {
	presigner := &fakePresigner{}
	router, _ := setupPolicyControllerTest(t, presigner)
	policy := createPolicy(t, router, "S1", "property")
	id := policy["policy_id"].(string)

	w := doJSON(t, router, http.MethodPost, "/policies/"+id+"/certificates", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	cert := decodeBody(t, w)["certificate"].(map[string]interface{})
	certID := cert["cert_id"].(string)
	assert.Equal(t, id, cert["policy_id"])
	assert.Equal(t, storage.CertificateKey("S1", certID), cert["document_locator"])

	w = doJSON(t, router, http.MethodGet, "/policies/"+id+"/certificates", nil)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])

	w = doJSON(t, router, http.MethodGet, "/certificates/"+certID+"/download", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	download := decodeBody(t, w)["download"].(map[string]interface{})
	assert.Contains(t, download["url"], "sig=1")
	assert.Equal(t, []string{storage.CertificateKey("S1", certID)}, presigner.keys)

	w = doJSON(t, router, http.MethodGet, "/certificates/missing/download", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.CertificateNotFound, decodeBody(t, w)["error"])

	presigner.err = errors.New("s3 down")
	w = doJSON(t, router, http.MethodGet, "/certificates/"+certID+"/download", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPolicyController_DownloadWithoutStorage(t *testing.T) {
	router, _ := setupPolicyControllerTest(t, nil)
	policy := createPolicy(t, router, "S1", "property")

	w := doJSON(t, router, http.MethodPost, "/policies/"+policy["policy_id"].(string)+"/certificates", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	certID := decodeBody(t, w)["certificate"].(map[string]interface{})["cert_id"].(string)

	w = doJSON(t, router, http.MethodGet, "/certificates/"+certID+"/download", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, storage.CertificateKey("S1", certID), resp["locator"])
	assert.Nil(t, resp["download"])
}

func TestPolicyController_PortfolioSummary(t *testing.T) {
	router, _ := setupPolicyControllerTest(t, nil)
	createPolicy(t, router, "S1", "property")
	createPolicy(t, router, "S2", "combined")

	w := doJSON(t, router, http.MethodGet, "/portfolio/summary", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	summary := decodeBody(t, w)["summary"].(map[string]interface{})
	assert.Equal(t, float64(2), summary["active_policies"])
	// 850 + max(175, 400)
	assert.True(t, decimal.NewFromInt(1250).Equal(decimalField(t, summary, "total_premium")))
}
