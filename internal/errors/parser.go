package errors

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/storecover-backend/internal/app/service"
	"github.com/ikkim/storecover-backend/internal/storage"
	"gorm.io/gorm"
)

// ErrorInfo is what a failed request is reduced to before it reaches the client.
type ErrorInfo struct {
	Status  int    // HTTP status
	Code    string // see codes.go
	Message string // safe to show to the user
}

type sentinel struct {
	err    error
	status int
	code   string
}

// sentinels maps service errors to responses. The first match wins.
var sentinels = []sentinel{
	{service.ErrStoreNotFound, http.StatusNotFound, StoreNotFound},
	{service.ErrStoreExists, http.StatusConflict, StoreAlreadyExists},
	{service.ErrInvalidStoreInput, http.StatusBadRequest, ValidationInvalidInput},
	{service.ErrPolicyNotFound, http.StatusNotFound, PolicyNotFound},
	{service.ErrPolicyAlreadyCancelled, http.StatusConflict, PolicyAlreadyCancelled},
	{service.ErrPolicyNotActive, http.StatusConflict, PolicyNotActive},
	{service.ErrActivePolicyExists, http.StatusConflict, PolicyActiveExists},
	{service.ErrInvalidCoverageType, http.StatusBadRequest, PolicyInvalidCoverage},
	{service.ErrCertificateNotFound, http.StatusNotFound, CertificateNotFound},
	{service.ErrNoActiveConfig, http.StatusUnprocessableEntity, PricingNoActiveConfig},
	{service.ErrInvalidFloorArea, http.StatusBadRequest, PricingInvalidFloorArea},
	{service.ErrForbidden, http.StatusForbidden, AuthzForbidden},
	{service.ErrQueueCapacity, http.StatusTooManyRequests, ImportQueueFull},
	{service.ErrJobNotFound, http.StatusNotFound, ImportJobNotFound},
	{service.ErrJobProcessing, http.StatusConflict, ImportJobProcessing},
	{service.ErrMalformedInput, http.StatusBadRequest, ImportMalformedFile},
	{service.ErrSessionRequired, http.StatusBadRequest, SessionRequired},
	{storage.ErrFileTooLarge, http.StatusRequestEntityTooLarge, UploadFileTooLarge},
	{storage.ErrExtensionNotAllowed, http.StatusBadRequest, UploadInvalidFileType},
}

// ParseError turns err into a status, code and message. Database details are
// never passed through verbatim.
func ParseError(err error, context string) ErrorInfo {
	if err == nil {
		return ErrorInfo{
			Status:  http.StatusInternalServerError,
			Code:    InternalServerError,
			Message: "Internal server error",
		}
	}

	// 1. Service sentinels
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return ErrorInfo{Status: s.status, Code: s.code, Message: err.Error()}
		}
	}

	// 2. GORM
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrorInfo{
			Status:  http.StatusNotFound,
			Code:    ResourceNotFound,
			Message: getNotFoundMessage(context),
		}
	}

	errLower := strings.ToLower(err.Error())

	// 3. Database constraints (postgres and sqlite wording)
	if strings.Contains(errLower, "duplicate key") || strings.Contains(errLower, "unique constraint") {
		return parseDuplicateKeyError(errLower)
	}
	if strings.Contains(errLower, "foreign key constraint") {
		return ErrorInfo{
			Status:  http.StatusConflict,
			Code:    ResourceConflict,
			Message: "Referenced data is missing or still in use",
		}
	}
	if strings.Contains(errLower, "not-null constraint") || strings.Contains(errLower, "not null constraint") {
		return ErrorInfo{
			Status:  http.StatusBadRequest,
			Code:    ValidationRequired,
			Message: "A required field is missing",
		}
	}

	// 4. Network
	if strings.Contains(errLower, "connection refused") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "timeout") {
		return ErrorInfo{
			Status:  http.StatusBadGateway,
			Code:    InternalExternalAPI,
			Message: "An external service is unreachable, please retry later",
		}
	}

	return ErrorInfo{
		Status:  http.StatusInternalServerError,
		Code:    InternalServerError,
		Message: getDefaultErrorMessage(context),
	}
}

func parseDuplicateKeyError(errLower string) ErrorInfo {
	switch {
	case strings.Contains(errLower, "store_code"):
		return ErrorInfo{Status: http.StatusConflict, Code: StoreAlreadyExists, Message: "Store code already registered"}
	case strings.Contains(errLower, "policy_id"):
		return ErrorInfo{Status: http.StatusConflict, Code: ResourceAlreadyExists, Message: "Policy already exists"}
	}
	return ErrorInfo{Status: http.StatusConflict, Code: ResourceAlreadyExists, Message: "Data already exists"}
}

func getNotFoundMessage(context string) string {
	contextLower := strings.ToLower(context)

	switch {
	case strings.Contains(contextLower, "store"):
		return "Store not found"
	case strings.Contains(contextLower, "certificate"):
		return "Certificate not found"
	case strings.Contains(contextLower, "policy"):
		return "Policy not found"
	case strings.Contains(contextLower, "import"), strings.Contains(contextLower, "job"):
		return "Import job not found"
	}
	return "Requested data not found"
}

func getDefaultErrorMessage(context string) string {
	contextLower := strings.ToLower(context)

	switch {
	case strings.Contains(contextLower, "create"):
		return "Failed to create, please retry later"
	case strings.Contains(contextLower, "update"):
		return "Failed to update, please retry later"
	case strings.Contains(contextLower, "delete"):
		return "Failed to delete, please retry later"
	case strings.Contains(contextLower, "import"):
		return "Failed to import the file, please retry later"
	}
	return "Internal server error, please retry later"
}

// ParseAndRespond writes the response for err. Handlers call it as their last
// statement on the error path.
func ParseAndRespond(c *gin.Context, err error, context string) {
	info := ParseError(err, context)
	RespondWithError(c, info.Status, info.Code, info.Message)
}
