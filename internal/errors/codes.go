package errors

// Error codes returned in ErrorResponse.Error.
// Format: CATEGORY_SPECIFIC_DETAIL. Clients map messages from these codes.

const (
	// ==================== Authentication (AUTH_) ====================
	AuthUnauthorized = "AUTH_UNAUTHORIZED"  // login required
	AuthTokenExpired = "AUTH_TOKEN_EXPIRED" // token expired
	AuthTokenInvalid = "AUTH_TOKEN_INVALID" // malformed or wrongly signed token
	AuthTokenRevoked = "AUTH_TOKEN_REVOKED" // token revoked

	// ==================== Authorization (AUTHZ_) ====================
	AuthzForbidden    = "AUTHZ_FORBIDDEN"      // no access
	AuthzRoleNotFound = "AUTHZ_ROLE_NOT_FOUND" // role claim missing

	// ==================== Validation (VALIDATION_) ====================
	ValidationInvalidInput  = "VALIDATION_INVALID_INPUT"
	ValidationInvalidID     = "VALIDATION_INVALID_ID"
	ValidationInvalidFormat = "VALIDATION_INVALID_FORMAT"
	ValidationInvalidRange  = "VALIDATION_INVALID_RANGE"
	ValidationRequired      = "VALIDATION_REQUIRED"

	// ==================== Resources (RESOURCE_) ====================
	ResourceNotFound      = "RESOURCE_NOT_FOUND"
	ResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ResourceConflict      = "RESOURCE_CONFLICT"

	// ==================== Stores (STORE_) ====================
	StoreNotFound          = "STORE_NOT_FOUND"
	StoreAlreadyExists     = "STORE_ALREADY_EXISTS"
	StoreInvalidTransition = "STORE_INVALID_TRANSITION"

	// ==================== Policies (POLICY_) ====================
	PolicyNotFound         = "POLICY_NOT_FOUND"
	PolicyAlreadyCancelled = "POLICY_ALREADY_CANCELLED"
	PolicyNotActive        = "POLICY_NOT_ACTIVE"
	PolicyActiveExists     = "POLICY_ACTIVE_EXISTS"
	PolicyInvalidCoverage  = "POLICY_INVALID_COVERAGE"
	CertificateNotFound    = "CERTIFICATE_NOT_FOUND"

	// ==================== Pricing (PRICING_) ====================
	PricingNoActiveConfig   = "PRICING_NO_ACTIVE_CONFIG"
	PricingInvalidFloorArea = "PRICING_INVALID_FLOOR_AREA"

	// ==================== Imports (IMPORT_) ====================
	ImportJobNotFound   = "IMPORT_JOB_NOT_FOUND"
	ImportJobProcessing = "IMPORT_JOB_PROCESSING"
	ImportQueueFull     = "IMPORT_QUEUE_FULL"
	ImportMalformedFile = "IMPORT_MALFORMED_FILE"

	// ==================== Sessions (SESSION_) ====================
	SessionRequired = "SESSION_REQUIRED"

	// ==================== Uploads (UPLOAD_) ====================
	UploadInvalidFileType = "UPLOAD_INVALID_FILE_TYPE"
	UploadFileTooLarge    = "UPLOAD_FILE_TOO_LARGE"
	UploadFailed          = "UPLOAD_FAILED"

	// ==================== Internal (INTERNAL_) ====================
	InternalServerError   = "INTERNAL_SERVER_ERROR"
	InternalDatabaseError = "INTERNAL_DATABASE_ERROR"
	InternalExternalAPI   = "INTERNAL_EXTERNAL_API"
	InternalConfigError   = "INTERNAL_CONFIG_ERROR"
)
