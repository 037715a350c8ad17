package scanning

import (
	"errors"
	"fmt"

	"github.com/cti/scanhub/internal/domain/shared"
)

// ErrStorageCredentials marks storage failures caused by missing or rejected credentials.
var ErrStorageCredentials = errors.New("object storage credentials missing or rejected")

// SchemaValidationError reports where normalized capture metadata violates the meta schema.
type SchemaValidationError struct {
	Path    string
	Message string
}

func (e *SchemaValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// DomainError exposes the error to the HTTP error mapping.
func (e *SchemaValidationError) DomainError() *shared.DomainError {
	return shared.NewDomainError(shared.CodeSchemaValidation, e.Error())
}

// StorageAccessError aborts a sync: object storage could not be listed or read.
type StorageAccessError struct {
	Bucket string
	Prefix string
	Err    error
}

func (e *StorageAccessError) Error() string {
	return fmt.Sprintf("storage access failed for %s/%s: %v", e.Bucket, e.Prefix, e.Err)
}

func (e *StorageAccessError) Unwrap() error { return e.Err }

// DomainError exposes the error to the HTTP error mapping. Credential
// failures get their own code so operators can tell them from missing buckets.
func (e *StorageAccessError) DomainError() *shared.DomainError {
	if errors.Is(e.Err, ErrStorageCredentials) {
		return shared.NewDomainError(shared.CodeStorageAuth,
			fmt.Sprintf("Object storage credentials missing or rejected for %s", e.Bucket))
	}
	return shared.NewDomainError(shared.CodeStorageAccess, e.Error())
}

// PersistenceError wraps a database failure inside an ingestion transaction.
// The transaction has been rolled back when this is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DomainError exposes the error to the HTTP error mapping. The cause is not leaked.
func (e *PersistenceError) DomainError() *shared.DomainError {
	return shared.NewDomainError(shared.CodePersistence, "Failed to persist scan")
}

// NewMalformedInputError reports input that could not be parsed far enough to normalize.
func NewMalformedInputError(message string) *shared.DomainError {
	return shared.NewDomainError(shared.CodeMalformedInput, message)
}
