package dto

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeUnknown, http.StatusInternalServerError},
		{ErrCodePersistence, http.StatusInternalServerError},
		{ErrCodeSchemaValidation, http.StatusBadRequest},
		{ErrCodeUnauthenticated, http.StatusUnauthorized},
		{ErrCodeInvalidSignature, http.StatusForbidden},
		{ErrCodeTokenExpired, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeStorageAccess, http.StatusBadRequest},
		{ErrCodeInvalidJSON, http.StatusBadRequest},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeRequestTooLarge, http.StatusRequestEntityTooLarge},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	for domainCode, apiCode := range DomainErrorCodeMapping {
		assert.Equal(t, apiCode, NormalizeErrorCode(domainCode))
		_, ok := ErrorCodeHTTPStatus[apiCode]
		assert.True(t, ok, "%s has no status", apiCode)
	}
	assert.Equal(t, "ERR_CUSTOM", NormalizeErrorCode("ERR_CUSTOM"))
}

func TestAsDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{
			name:     "plain domain error",
			err:      fmt.Errorf("lookup: %w", shared.ErrNotFound),
			wantCode: shared.CodeNotFound,
		},
		{
			name:     "schema violation keeps path in message",
			err:      &scanning.SchemaValidationError{Path: "/gps/lat", Message: "must be <= 90"},
			wantCode: shared.CodeSchemaValidation,
			wantMsg:  "/gps/lat: must be <= 90",
		},
		{
			name:     "persistence hides cause",
			err:      &scanning.PersistenceError{Op: "ingest capture", Err: errors.New("pq: deadlock detected")},
			wantCode: shared.CodePersistence,
			wantMsg:  "Failed to persist scan",
		},
		{
			name:     "storage credentials",
			err:      &scanning.StorageAccessError{Bucket: "scans", Prefix: "raw/", Err: scanning.ErrStorageCredentials},
			wantCode: shared.CodeStorageAuth,
			wantMsg:  "Object storage credentials missing or rejected for scans",
		},
		{
			name:     "storage access",
			err:      &scanning.StorageAccessError{Bucket: "scans", Prefix: "raw/", Err: errors.New("NoSuchBucket")},
			wantCode: shared.CodeStorageAccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			domainErr, ok := AsDomainError(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, domainErr.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, domainErr.Message)
			}
		})
	}

	_, ok := AsDomainError(errors.New("boom"))
	assert.False(t, ok)
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeNotFound, "Scan not found", "req-1")

	assert.False(t, resp.Success)
	assert.Equal(t, "req-1", resp.RequestID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Nil(t, resp.Data)
}
