package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	infraconfig "github.com/cti/scanhub/internal/infrastructure/config"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var _ ObjectStorage = (*GCSObjectStorage)(nil)

// GCSObjectStorage reads captures from Google Cloud Storage.
type GCSObjectStorage struct {
	client            *gcs.Client
	bucket            string
	presignExpiration time.Duration
	logger            *zap.Logger
}

// NewGCSObjectStorage creates a GCS store. Without a credentials file the
// application default credentials are used.
func NewGCSObjectStorage(ctx context.Context, cfg *infraconfig.StorageConfig, logger *zap.Logger, opts ...option.ClientOption) (*GCSObjectStorage, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, credentialsError("create gcs client", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	expiration := cfg.PresignExpiration
	if expiration <= 0 {
		expiration = DefaultPresignExpiration
	}
	return &GCSObjectStorage{
		client:            client,
		bucket:            cfg.Bucket,
		presignExpiration: expiration,
		logger:            logger,
	}, nil
}

// ListKeys iterates every object under prefix.
func (s *GCSObjectStorage) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	it.PageInfo().MaxSize = listPageSize

	keys := make([]string, 0)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, s.translate("list objects", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// GetObject reads a whole object into memory.
func (s *GCSObjectStorage) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, s.translate("get object", err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return body, nil
}

// PresignGet creates a V4 signed GET URL.
func (s *GCSObjectStorage) PresignGet(_ context.Context, bucket, key string, expiresIn time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("storage key is required")
	}
	if expiresIn <= 0 {
		expiresIn = s.presignExpiration
	}
	u, err := s.client.Bucket(bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiresIn),
	})
	if err != nil {
		return "", s.translate("presign object", err)
	}
	return u, nil
}

// DefaultBucket returns the configured bucket name
func (s *GCSObjectStorage) DefaultBucket() string {
	return s.bucket
}

// Close releases the client's connections
func (s *GCSObjectStorage) Close() error {
	return s.client.Close()
}

func (s *GCSObjectStorage) translate(op string, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", op, ErrObjectNotFound)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		s.logger.Warn("Object storage rejected credentials",
			zap.String("operation", op),
			zap.Int("code", apiErr.Code))
		return credentialsError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
