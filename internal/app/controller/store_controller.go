package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/internal/app/model"
	"github.com/ikkim/storecover-backend/internal/app/repository"
	"github.com/ikkim/storecover-backend/internal/app/service"
	apperrors "github.com/ikkim/storecover-backend/internal/errors"
	"github.com/ikkim/storecover-backend/internal/middleware"
)

type StoreController struct {
	lifecycle service.LifecycleService
}

func NewStoreController(lifecycle service.LifecycleService) *StoreController {
	return &StoreController{lifecycle: lifecycle}
}

type CreateStoreRequest struct {
	StoreCode    string  `json:"store_code" binding:"required"`
	BusinessName string  `json:"business_name"`
	Address      string  `json:"address"`
	FloorArea    float64 `json:"floor_area" binding:"required,gt=0"`
}

type TransitionRequest struct {
	Reason string `json:"reason"`
}

// GET /api/v1/stores?status=&search=
func (ctrl *StoreController) ListStores(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	filter := repository.StoreFilter{
		Status: model.StoreStatus(c.Query("status")),
		Search: c.Query("search"),
	}

	stores, err := ctrl.lifecycle.ListStores(filter)
	if err != nil {
		log.Error("Failed to list stores", err)
		apperrors.ParseAndRespond(c, err, "store")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stores": stores,
		"count":  len(stores),
	})
}

// GET /api/v1/stores/:code
func (ctrl *StoreController) GetStore(c *gin.Context) {
	store, err := ctrl.lifecycle.GetStore(c.Param("code"))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "store")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"store": store,
	})
}

// CreateStore registers a store in pending state
// POST /api/v1/stores
func (ctrl *StoreController) CreateStore(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	var req CreateStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid store request", map[string]interface{}{
			"error": err.Error(),
		})
		apperrors.RespondWithValidationError(c, apperrors.FieldErrors(err))
		return
	}

	store, err := ctrl.lifecycle.CreateStore(service.StoreInput{
		StoreCode:    req.StoreCode,
		BusinessName: req.BusinessName,
		Address:      req.Address,
		FloorArea:    req.FloorArea,
	}, middleware.GetActor(c))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "store")
		return
	}

	log.Info("Store created", map[string]interface{}{
		"store_code": store.StoreCode,
	})

	c.JSON(http.StatusCreated, gin.H{
		"store": store,
	})
}

// UpdateStore changes the descriptive attributes of a store
// PATCH /api/v1/stores/:code
func (ctrl *StoreController) UpdateStore(c *gin.Context) {
	var changes service.StoreChanges
	if err := c.ShouldBindJSON(&changes); err != nil {
		apperrors.BadRequest(c, apperrors.ValidationInvalidInput, "Invalid request body")
		return
	}

	store, err := ctrl.lifecycle.GetStore(c.Param("code"))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "store")
		return
	}

	updated, err := ctrl.lifecycle.UpdateStore(store, changes, middleware.GetActor(c))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "store")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"store": updated,
	})
}

// Transition applies one of activate, deactivate, suspend or reapply.
// POST /api/v1/stores/:code/:action
func (ctrl *StoreController) Transition(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	var apply func(*model.Store, string, string) service.TransitionResult
	switch action := c.Param("action"); action {
	case "activate":
		apply = ctrl.lifecycle.Activate
	case "deactivate":
		apply = ctrl.lifecycle.Deactivate
	case "suspend":
		apply = ctrl.lifecycle.Suspend
	case "reapply":
		apply = ctrl.lifecycle.Reapply
	default:
		apperrors.NotFound(c, apperrors.ResourceNotFound, "Unknown store action")
		return
	}

	var req TransitionRequest
	// the body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.BadRequest(c, apperrors.ValidationInvalidInput, "Invalid request body")
			return
		}
	}

	store, err := ctrl.lifecycle.GetStore(c.Param("code"))
	if err != nil {
		apperrors.ParseAndRespond(c, err, "store")
		return
	}

	result := apply(store, req.Reason, middleware.GetActor(c))
	if !result.Success {
		log.Warn("Store transition rejected", map[string]interface{}{
			"store_code": store.StoreCode,
			"action":     c.Param("action"),
			"error":      result.Error,
		})
		apperrors.Conflict(c, apperrors.StoreInvalidTransition, result.Error)
		return
	}

	log.Info("Store transitioned", map[string]interface{}{
		"store_code": store.StoreCode,
		"status":     result.Store.Status,
	})

	c.JSON(http.StatusOK, gin.H{
		"store": result.Store,
		"event": result.Event,
	})
}

// GET /api/v1/stores/:code/audit
func (ctrl *StoreController) GetAuditLog(c *gin.Context) {
	code := c.Param("code")
	if _, err := ctrl.lifecycle.GetStore(code); err != nil {
		apperrors.ParseAndRespond(c, err, "store")
		return
	}

	entries, err := ctrl.lifecycle.GetAuditLog(model.AuditEntityStore, code)
	if err != nil {
		apperrors.ParseAndRespond(c, err, "audit")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
