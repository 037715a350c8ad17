package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target carries the same code, so a DomainError built with a
// custom message still matches the sentinel for its code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Error codes shared across bounded contexts
const (
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyExists    = "ALREADY_EXISTS"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeForbidden        = "FORBIDDEN"
	CodeSchemaValidation = "SCHEMA_VALIDATION"
	CodeMalformedInput   = "MALFORMED_INPUT"
	CodeStorageAccess    = "STORAGE_ACCESS"
	CodeStorageAuth      = "STORAGE_AUTH"
	CodePersistence      = "PERSISTENCE"
)

// Common domain errors
var (
	ErrNotFound         = NewDomainError(CodeNotFound, "Resource not found")
	ErrAlreadyExists    = NewDomainError(CodeAlreadyExists, "Resource already exists")
	ErrInvalidInput     = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrUnauthenticated  = NewDomainError(CodeUnauthenticated, "Missing HMAC headers")
	ErrInvalidSignature = NewDomainError(CodeInvalidSignature, "Invalid signature or timestamp")
	ErrForbidden        = NewDomainError(CodeForbidden, "Access to this resource is forbidden")
	ErrMalformedInput   = NewDomainError(CodeMalformedInput, "Malformed input")
)
