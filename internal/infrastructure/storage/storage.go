// Package storage provides the object stores capture files are read from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cti/scanhub/internal/application/ingest"
	"github.com/cti/scanhub/internal/domain/scanning"
	infraconfig "github.com/cti/scanhub/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket
var ErrObjectNotFound = errors.New("object not found")

// DefaultPresignExpiration applies when the configuration sets none
const DefaultPresignExpiration = 15 * time.Minute

// listPageSize bounds each listing request
const listPageSize = 1000

// ObjectStorage is a bucket-addressed object store. Credential failures wrap
// scanning.ErrStorageCredentials.
type ObjectStorage interface {
	ingest.ObjectStorage

	// PresignGet returns a time-limited download URL. A zero expiry uses the
	// store's default.
	PresignGet(ctx context.Context, bucket, key string, expiresIn time.Duration) (string, error)

	// DefaultBucket is the configured bucket
	DefaultBucket() string
}

// New builds the store selected by cfg.Provider.
func New(ctx context.Context, cfg *infraconfig.StorageConfig, logger *zap.Logger) (ObjectStorage, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case infraconfig.StorageProviderS3, "":
		return NewS3ObjectStorage(ctx, cfg, WithLogger(logger))
	case infraconfig.StorageProviderGCS:
		return NewGCSObjectStorage(ctx, cfg, logger)
	case infraconfig.StorageProviderMemory:
		return NewMemoryObjectStorage(cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

func credentialsError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, scanning.ErrStorageCredentials, err)
}
