package storage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ ObjectStorage = (*MemoryObjectStorage)(nil)

// MemoryObjectStorage keeps objects in process memory. It backs local
// development and tests; presigned URLs point at BaseURL and are not served.
type MemoryObjectStorage struct {
	// BaseURL prefixes generated download URLs
	BaseURL string

	mu      sync.RWMutex
	bucket  string
	objects map[string]map[string][]byte
	now     func() time.Time
}

// NewMemoryObjectStorage creates an empty store whose default bucket is bucket
func NewMemoryObjectStorage(bucket string) *MemoryObjectStorage {
	return &MemoryObjectStorage{
		BaseURL: "http://storage.local",
		bucket:  bucket,
		objects: make(map[string]map[string][]byte),
		now:     time.Now,
	}
}

// Put stores a copy of data under bucket/key
func (s *MemoryObjectStorage) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects[bucket] == nil {
		s.objects[bucket] = make(map[string][]byte)
	}
	s.objects[bucket][key] = append([]byte(nil), data...)
}

// Delete removes bucket/key if present
func (s *MemoryObjectStorage) Delete(bucket, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects[bucket], key)
}

// ListKeys returns keys under prefix in lexical order, as S3 does
func (s *MemoryObjectStorage) ListKeys(_ context.Context, bucket, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0)
	for k := range s.objects[bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetObject returns a copy of the object
func (s *MemoryObjectStorage) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[bucket][key]
	if !ok {
		return nil, fmt.Errorf("get object %s: %w", key, ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

// PresignGet builds a URL carrying the expiry, without a signature
func (s *MemoryObjectStorage) PresignGet(_ context.Context, bucket, key string, expiresIn time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage key is required")
	}
	if expiresIn <= 0 {
		expiresIn = DefaultPresignExpiration
	}
	expiresAt := s.now().Add(expiresIn).UTC().Format(time.RFC3339)
	return s.BaseURL + "/" + url.PathEscape(bucket) + "/" + key + "?expires=" + url.QueryEscape(expiresAt), nil
}

// DefaultBucket returns the bucket given at construction
func (s *MemoryObjectStorage) DefaultBucket() string {
	return s.bucket
}
