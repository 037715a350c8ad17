package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/cti/scanhub/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// MetaFileName is the metadata object every capture folder carries.
const MetaFileName = "meta.json"

// SyncMode selects whether a sync may delete scans.
type SyncMode string

const (
	// SyncModeAddOnly ingests missing captures and never deletes.
	SyncModeAddOnly SyncMode = "add_only"
	// SyncModeAddRemove also deletes scans under the prefix that storage no longer has.
	SyncModeAddRemove SyncMode = "add_remove"
)

// ParseSyncMode validates a mode name.
func ParseSyncMode(s string) (SyncMode, error) {
	switch m := SyncMode(s); m {
	case SyncModeAddOnly, SyncModeAddRemove:
		return m, nil
	default:
		return "", shared.NewDomainError(shared.CodeInvalidInput, fmt.Sprintf("Unsupported mode '%s'", s))
	}
}

// ObjectStorage is the read side of the bucket a sync crawls. Implementations
// wrap credential failures with scanning.ErrStorageCredentials.
type ObjectStorage interface {
	// ListKeys returns every object key under prefix, following pagination.
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// SyncRequest names the bucket area to reconcile.
type SyncRequest struct {
	Bucket string
	Prefix string
	Mode   SyncMode
	// Source tags the ingested events; empty means admin_sync.
	Source string
}

// SyncResult summarises one reconciliation run.
type SyncResult struct {
	Bucket           string   `json:"bucket"`
	Prefix           string   `json:"prefix"`
	Mode             SyncMode `json:"mode"`
	Added            int      `json:"added"`
	Duplicates       int      `json:"duplicates"`
	Removed          int      `json:"removed"`
	Errors           []string `json:"errors"`
	SyncedIngestKeys int      `json:"synced_ingest_keys"`
}

// SyncService reconciles the scans table with the captures found in a bucket.
type SyncService struct {
	storage ObjectStorage
	ingest  *Service
	scans   scanning.ScanRepository
	scope   TransactionScope
	metrics *telemetry.IngestMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewSyncService creates a new SyncService
func NewSyncService(
	storage ObjectStorage,
	ingest *Service,
	scans scanning.ScanRepository,
	scope TransactionScope,
	logger *zap.Logger,
) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		storage: storage,
		ingest:  ingest,
		scans:   scans,
		scope:   scope,
		logger:  logger,
		now:     time.Now,
	}
}

// SetIngestMetrics enables sync metrics. Nil disables them.
func (s *SyncService) SetIngestMetrics(m *telemetry.IngestMetrics) {
	s.metrics = m
}

// NormalizePrefix strips leading slashes and ensures a trailing one.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// Sync ingests every capture under the prefix that has no scan yet and, in
// add_remove mode, deletes scans whose capture is gone. Problems with single
// captures are collected in the result. Storage failures abort the run with a
// *scanning.StorageAccessError.
func (s *SyncService) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	mode, err := ParseSyncMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	prefix := NormalizePrefix(req.Prefix)

	ctx, span := telemetry.StartSpan(ctx, "ingest.sync",
		telemetry.SpanAttrBucket, req.Bucket,
		telemetry.SpanAttrPrefix, prefix,
		telemetry.SpanAttrSyncMode, string(mode),
	)
	defer span.End()

	log := contextLogger(ctx, s.logger).With(
		zap.String("bucket", req.Bucket),
		zap.String("prefix", prefix),
		zap.String("mode", string(mode)))

	result := &SyncResult{
		Bucket: req.Bucket,
		Prefix: prefix,
		Mode:   mode,
		Errors: []string{},
	}

	keys, err := s.storage.ListKeys(ctx, req.Bucket, prefix)
	if err != nil {
		accessErr := &scanning.StorageAccessError{Bucket: req.Bucket, Prefix: prefix, Err: err}
		telemetry.RecordError(span, accessErr)
		return nil, accessErr
	}

	source := req.Source
	if source == "" {
		source = SourceAdminSync
	}
	observed := make(map[string]struct{})
	for _, key := range keys {
		if !strings.HasSuffix(key, MetaFileName) {
			continue
		}
		if err := s.syncCapture(ctx, req.Bucket, key, source, observed, result); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}
	result.SyncedIngestKeys = len(observed)

	if mode == SyncModeAddRemove {
		removed, err := s.removeStale(ctx, prefix, observed)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		result.Removed = removed
	}

	if s.metrics != nil {
		s.metrics.RecordSync(ctx, string(mode), result.Removed, result.SyncedIngestKeys)
	}
	log.Info("Bucket sync finished",
		zap.Int("added", result.Added),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("removed", result.Removed),
		zap.Int("errors", len(result.Errors)),
		zap.Int("synced_ingest_keys", result.SyncedIngestKeys))
	telemetry.SetOK(span)
	return result, nil
}

// syncCapture handles one meta.json. Only storage failures are returned; all
// other problems land in result.Errors.
func (s *SyncService) syncCapture(ctx context.Context, bucket, metaKey, source string, observed map[string]struct{}, result *SyncResult) error {
	slash := strings.LastIndex(metaKey, "/")
	if slash < 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: not inside a capture folder", metaKey))
		return nil
	}
	ingestKey := metaKey[:slash+1]
	observed[ingestKey] = struct{}{}

	if _, err := s.scans.FindByIngestKey(ctx, ingestKey); err == nil {
		result.Duplicates++
		return nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: ingest failed - %v", metaKey, err))
		return nil
	}

	started := s.now()
	body, err := s.storage.GetObject(ctx, bucket, metaKey)
	if err != nil {
		return &scanning.StorageAccessError{Bucket: bucket, Prefix: metaKey, Err: err}
	}
	meta, err := DecodeJSONObject(body)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: invalid JSON (%v)", metaKey, err))
		return nil
	}

	keys, err := s.storage.ListKeys(ctx, bucket, ingestKey)
	if err != nil {
		return &scanning.StorageAccessError{Bucket: bucket, Prefix: ingestKey, Err: err}
	}
	objects := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			continue
		}
		objects = append(objects, strings.TrimPrefix(key, ingestKey))
	}

	deviceCode, _ := meta["device_code"].(string)
	if strings.TrimSpace(deviceCode) == "" {
		deviceCode = UnknownDevice
	}

	res, err := s.ingest.Submit(ctx, Submission{
		Bucket:     bucket,
		IngestKey:  ingestKey,
		DeviceCode: deviceCode,
		Objects:    objects,
		Meta:       meta,
		Source:     source,
		BytesIn:    int64(len(body)),
		StartedAt:  started,
	})
	if err != nil {
		var schemaErr *scanning.SchemaValidationError
		if errors.As(err, &schemaErr) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: schema error - %s", metaKey, schemaErr.Error()))
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: ingest failed - %v", metaKey, err))
		}
		return nil
	}
	if res.Created {
		result.Added++
	} else {
		result.Duplicates++
	}
	return nil
}

// removeStale deletes, in one transaction, every scan under prefix whose
// ingest key was not observed.
func (s *SyncService) removeStale(ctx context.Context, prefix string, observed map[string]struct{}) (int, error) {
	keys := make([]string, 0, len(observed))
	for key := range observed {
		keys = append(keys, key)
	}

	removed := 0
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		stale, err := repos.Scans().FindStale(ctx, prefix, keys)
		if err != nil {
			return fmt.Errorf("find stale scans: %w", err)
		}
		for i := range stale {
			if err := repos.Scans().DeleteWithOwnedRows(ctx, &stale[i]); err != nil {
				return err
			}
			contextLogger(ctx, s.logger).Info("Removed stale scan",
				zap.String("ingest_key", stale[i].IngestKey),
				zap.String("scan_id", stale[i].ID.String()))
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, &scanning.PersistenceError{Op: "remove stale scans", Err: err}
	}
	return removed, nil
}
