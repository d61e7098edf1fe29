package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/ikkim/storecover-backend/internal/app/service"
	"github.com/ikkim/storecover-backend/internal/storage"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestParseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		context    string
		wantStatus int
		wantCode   string
	}{
		{"nil", nil, "", http.StatusInternalServerError, InternalServerError},
		{"wrapped store not found", fmt.Errorf("load: %w", service.ErrStoreNotFound), "", http.StatusNotFound, StoreNotFound},
		{"policy already cancelled", service.ErrPolicyAlreadyCancelled, "", http.StatusConflict, PolicyAlreadyCancelled},
		{"no pricing config", service.ErrNoActiveConfig, "", http.StatusUnprocessableEntity, PricingNoActiveConfig},
		{"queue full", service.ErrQueueCapacity, "", http.StatusTooManyRequests, ImportQueueFull},
		{"forbidden import", service.ErrForbidden, "", http.StatusForbidden, AuthzForbidden},
		{"upload too large", storage.ErrFileTooLarge, "", http.StatusRequestEntityTooLarge, UploadFileTooLarge},
		{"record not found", gorm.ErrRecordNotFound, "get store", http.StatusNotFound, ResourceNotFound},
		{"sqlite unique", fmt.Errorf("UNIQUE constraint failed: stores.store_code"), "create store", http.StatusConflict, StoreAlreadyExists},
		{"postgres unique", fmt.Errorf("ERROR: duplicate key value violates unique constraint \"idx_x\""), "", http.StatusConflict, ResourceAlreadyExists},
		{"timeout", fmt.Errorf("dial tcp: i/o timeout"), "", http.StatusBadGateway, InternalExternalAPI},
		{"unknown", fmt.Errorf("boom"), "delete job", http.StatusInternalServerError, InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseError(tt.err, tt.context)
			assert.Equal(t, tt.wantStatus, info.Status)
			assert.Equal(t, tt.wantCode, info.Code)
			assert.NotEmpty(t, info.Message)
		})
	}
}

func TestParseErrorHidesDatabaseDetails(t *testing.T) {
	info := ParseError(fmt.Errorf("pq: relation \"stores\" does not exist"), "list stores")
	assert.NotContains(t, info.Message, "pq:")
	assert.Equal(t, "Internal server error, please retry later", info.Message)

	info = ParseError(gorm.ErrRecordNotFound, "get certificate")
	assert.Equal(t, "Certificate not found", info.Message)
}
