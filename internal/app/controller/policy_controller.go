package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/internal/app/service"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	"github.com/ikkim/storecover-backend/internal/middleware"
	"github.com/ikkim/storecover-backend/internal/storage"
)

// Presigner issues temporary download links for stored documents.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (*storage.PresignedURLResponse, error)
}

type PolicyController struct {
	policies  service.PolicyService
	lifecycle service.LifecycleService
	presigner Presigner // nil when object storage is not configured
}

func NewPolicyController(policies service.PolicyService, lifecycle service.LifecycleService, presigner Presigner) *PolicyController {
	return &PolicyController{
		policies:  policies,
		lifecycle: lifecycle,
		presigner: presigner,
	}
}

type CreatePolicyRequest struct {
	StoreCode      string             `json:"store_code" binding:"required"`
	CoverageType   model.CoverageType `json:"coverage_type" binding:"required"`
	EffectiveFrom  string             `json:"effective_from"` // YYYY-MM-DD or RFC3339, defaults to now
	DurationMonths int                `json:"duration_months" binding:"gte=0"`
}

type CancelPolicyRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type RenewPolicyRequest struct {
	DurationMonths int `json:"duration_months" binding:"gte=0"`
}

// parseDate accepts a calendar date or a full timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// GET /api/v1/policies?store_code=&status=&coverage_type=
func (ctrl *PolicyController) ListPolicies(c *gin.Context) {
	filter := repository.PolicyFilter{
		StoreCode:    c.Query("store_code"),
		Status:       model.PolicyStatus(c.Query("status")),
		CoverageType: model.CoverageType(c.Query("coverage_type")),
	}

	policies, err := ctrl.policies.ListPolicies(filter)
	if err != nil {
		apperrors.ParseAndRespond(c, err, "policy")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"policies": policies,
		"count":    len(policies),
	})
}

// GET /api/v1/policies/:id
func (ctrl *PolicyController) GetPolicy(c *gin.Context) {
	policy, err := ctrl.policies.GetPolicy(c.Param("id"))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "policy")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"policy": policy,
	})
}

// CreatePolicy prices and opens a policy for a store
// POST /api/v1/policies
func (ctrl *PolicyController) CreatePolicy(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid policy request", map[string]interface{}{
			"error": err.Error(),
		})
		apperrors.RespondWithValidationError(c, apperrors.FieldErrors(err))
		return
	}

	input := service.CreatePolicyInput{
		CoverageType:   req.CoverageType,
		DurationMonths: req.DurationMonths,
		Actor:          middleware.GetActor(c),
	}
	if req.EffectiveFrom != "" {
		from, err := parseDate(req.EffectiveFrom)
		if err != nil {
			apperrors.BadRequest(c, apperrors.ValidationInvalidFormat, "effective_from must be YYYY-MM-DD or RFC3339")
			return
		}
		input.EffectiveFrom = &from
	}

	store, err := ctrl.lifecycle.GetStore(req.StoreCode)
	if err != nil {
		apperrors.ParseAndRespond(c, err, "store")
		return
	}
	input.Store = store

	policy, err := ctrl.policies.CreatePolicy(input)
	if err != nil {
		apperrors.ParseAndRespond(c, err, "policy")
		return
	}

	log.Info("Policy created", map[string]interface{}{
		"policy_id":  policy.PolicyID,
		"store_code": policy.StoreCode,
		"premium":    policy.Premium.String(),
	})

	c.JSON(http.StatusCreated, gin.H{
		"policy": policy,
	})
}

// POST /api/v1/policies/:id/cancel
func (ctrl *PolicyController) CancelPolicy(c *gin.Context) {
	var req CancelPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, apperrors.ValidationRequired, "A cancellation reason is required")
		return
	}

	policy, err := ctrl.policies.CancelPolicy(c.Param("id"), req.Reason, middleware.GetActor(c))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "policy")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"policy": policy,
	})
}

// RenewPolicy opens the follow-up policy starting where this one ends
// POST /api/v1/policies/:id/renew
func (ctrl *PolicyController) RenewPolicy(c *gin.Context) {
	var req RenewPolicyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.BadRequest(c, apperrors.ValidationInvalidInput, "Invalid request body")
			return
		}
	}

	renewed, err := ctrl.policies.RenewPolicy(c.Param("id"), req.DurationMonths, middleware.GetActor(c))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "policy")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"policy": renewed,
	})
}

// POST /api/v1/policies/:id/certificates
func (ctrl *PolicyController) IssueCertificate(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	policy, err := ctrl.policies.GetPolicy(c.Param("id"))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "policy")
		return
	}

	cert, err := ctrl.policies.GenerateCertificate(policy)
	if err != nil {
		apperrors.ParseAndRespond(c, err, "certificate")
		return
	}

	log.Info("Certificate issued", map[string]interface{}{
		"cert_id":   cert.CertID,
		"policy_id": policy.PolicyID,
	})

	c.JSON(http.StatusCreated, gin.H{
		"certificate": cert,
	})
}

// GET /api/v1/policies/:id/certificates
func (ctrl *PolicyController) ListCertificates(c *gin.Context) {
	policyID := c.Param("id")
	if _, err := ctrl.policies.GetPolicy(policyID); err != nil {
		apperrors.ParseAndRespond(c, err, "policy")
		return
	}

	certs, err := ctrl.policies.CertificatesForPolicy(policyID)
	if err != nil {
		apperrors.ParseAndRespond(c, err, "certificate")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"certificates": certs,
		"count":        len(certs),
	})
}

// DownloadCertificate returns a presigned link to the certificate document
// GET /api/v1/certificates/:id/download
func (ctrl *PolicyController) DownloadCertificate(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	cert, err := ctrl.policies.GetCertificate(c.Param("id"))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "certificate")
		return
	}

	if ctrl.presigner == nil {
		c.JSON(http.StatusOK, gin.H{
			"certificate": cert,
			"locator":     cert.DocumentLocator,
		})
		return
	}

	link, err := ctrl.presigner.PresignDownload(c.Request.Context(), cert.DocumentLocator)
	if err != nil {
		log.Error("Failed to presign certificate download", err, map[string]interface{}{
			"cert_id": cert.CertID,
		})
		apperrors.RespondWithError(c, http.StatusBadGateway, apperrors.InternalExternalAPI, "Certificate storage is unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"certificate": cert,
		"locator":     cert.DocumentLocator,
		"download":    link,
	})
}

// GET /api/v1/portfolio/summary
func (ctrl *PolicyController) GetPortfolioSummary(c *gin.Context) {
	summary, err := ctrl.policies.GetPortfolioSummary()
	if err != nil {
		apperrors.ParseAndRespond(c, err, "policy")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
	})
}
