package dto

import (
	"errors"
	"net/http"

	"github.com/cti/scanhub/internal/domain/shared"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodePersistence is used when the database rejected an ingestion
	ErrCodePersistence = "ERR_PERSISTENCE"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for request validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeSchemaValidation is used when capture metadata violates the meta schema
	ErrCodeSchemaValidation = "ERR_SCHEMA_VALIDATION"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeForbidden is used when the caller lacks permission
	ErrCodeForbidden = "ERR_FORBIDDEN"
	// ErrCodeTokenExpired is used when the bearer token has expired
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	// ErrCodeTokenInvalid is used when the bearer token is invalid
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
	// ErrCodeUnauthenticated is used when webhook signature headers are missing
	ErrCodeUnauthenticated = "ERR_UNAUTHENTICATED"
	// ErrCodeInvalidSignature is used for a bad signature or a stale timestamp
	ErrCodeInvalidSignature = "ERR_INVALID_SIGNATURE"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeStorageAccess is used when object storage could not be listed or read
	ErrCodeStorageAccess = "ERR_STORAGE_ACCESS"
	// ErrCodeStorageCredentials is used when object storage refused or lacked credentials
	ErrCodeStorageCredentials = "ERR_STORAGE_CREDENTIALS"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:     http.StatusInternalServerError,
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodePersistence: http.StatusInternalServerError,

	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeSchemaValidation: http.StatusBadRequest,

	ErrCodeUnauthorized:     http.StatusUnauthorized,
	ErrCodeForbidden:        http.StatusForbidden,
	ErrCodeTokenExpired:     http.StatusUnauthorized,
	ErrCodeTokenInvalid:     http.StatusUnauthorized,
	ErrCodeUnauthenticated:  http.StatusUnauthorized,
	ErrCodeInvalidSignature: http.StatusForbidden,

	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeAlreadyExists: http.StatusConflict,
	// storage failures during sync are configuration problems the operator fixes
	ErrCodeStorageAccess:      http.StatusBadRequest,
	ErrCodeStorageCredentials: http.StatusBadRequest,

	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	shared.CodeNotFound:         ErrCodeNotFound,
	shared.CodeAlreadyExists:    ErrCodeAlreadyExists,
	shared.CodeInvalidInput:     ErrCodeInvalidInput,
	shared.CodeUnauthenticated:  ErrCodeUnauthenticated,
	shared.CodeInvalidSignature: ErrCodeInvalidSignature,
	shared.CodeForbidden:        ErrCodeForbidden,
	shared.CodeSchemaValidation: ErrCodeSchemaValidation,
	shared.CodeMalformedInput:   ErrCodeInvalidJSON,
	shared.CodeStorageAccess:    ErrCodeStorageAccess,
	shared.CodeStorageAuth:      ErrCodeStorageCredentials,
	shared.CodePersistence:      ErrCodePersistence,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Unknown codes are returned as-is.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}

// domainErrorer is implemented by typed errors that carry a domain code
// alongside their own fields.
type domainErrorer interface {
	DomainError() *shared.DomainError
}

// AsDomainError finds the domain error in err's chain. Typed errors exposing
// DomainError() take precedence over a plain *shared.DomainError.
func AsDomainError(err error) (*shared.DomainError, bool) {
	var typed domainErrorer
	if errors.As(err, &typed) {
		return typed.DomainError(), true
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}
