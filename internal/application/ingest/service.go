package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/cti/scanhub/internal/infrastructure/logger"
	"github.com/cti/scanhub/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Provenance tags recorded on the ingested event
const (
	SourceWebhook   = "webhook"
	SourceAdminSync = "admin_sync"
	SourceCLI       = "cli"
	SourceScheduled = "scheduled_sync"
)

// Result statuses and messages returned to callers
const (
	StatusSuccess    = "success"
	StatusDuplicate  = "duplicate"
	MessageIngested  = "Scan ingested successfully"
	MessageDuplicate = "Scan already ingested"
)

// Request is one capture ready to be stored.
type Request struct {
	Bucket     string
	IngestKey  string
	DeviceCode string
	// Objects are the capture's file names relative to IngestKey.
	Objects   []string
	Capture   *NormalizedCapture
	Source    string
	BytesIn   int64
	StartedAt time.Time
}

// Submission is one capture as received, before normalization.
type Submission struct {
	Bucket     string
	IngestKey  string
	DeviceCode string
	Objects    []string
	Meta       map[string]any
	Source     string
	BytesIn    int64
	StartedAt  time.Time
}

// Result reports what an ingestion did. Created is false for a duplicate.
type Result struct {
	Created   bool
	ScanID    uuid.UUID
	CaptureID string
	Status    string
	Message   string
}

// ServiceConfig holds the collaborators of a Service
type ServiceConfig struct {
	Scope         TransactionScope
	Scans         scanning.ScanRepository
	IngestionLogs scanning.IngestionLogRepository
	Normalizer    *Normalizer
	Logger        *zap.Logger
	Now           func() time.Time
}

// Service stores captures exactly once per ingest key.
type Service struct {
	scope      TransactionScope
	scans      scanning.ScanRepository
	logs       scanning.IngestionLogRepository
	normalizer *Normalizer
	resolver   *EntityResolver
	metrics    *telemetry.IngestMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a new ingestion Service
func NewService(cfg ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		scope:      cfg.Scope,
		scans:      cfg.Scans,
		logs:       cfg.IngestionLogs,
		normalizer: cfg.Normalizer,
		resolver:   NewEntityResolver(now),
		logger:     log,
		now:        now,
	}
}

// SetIngestMetrics enables outcome metrics. Nil disables them.
func (s *Service) SetIngestMetrics(m *telemetry.IngestMetrics) {
	s.metrics = m
}

// Submit normalizes raw metadata and ingests it. A schema failure is written to
// the ingestion log and returned as *scanning.SchemaValidationError.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	capture, err := s.normalizer.Normalize(NormalizeInput{
		Meta:       sub.Meta,
		Objects:    sub.Objects,
		IngestKey:  sub.IngestKey,
		DeviceCode: sub.DeviceCode,
	})
	if err != nil {
		var schemaErr *scanning.SchemaValidationError
		if errors.As(err, &schemaErr) {
			s.RecordRejection(ctx, Rejection{
				CaptureID: CaptureIDHint(sub.Meta),
				IngestKey: sub.IngestKey,
				Source:    sub.Source,
				BytesIn:   sub.BytesIn,
				StartedAt: sub.StartedAt,
				Err:       schemaErr,
			})
		}
		return nil, err
	}

	return s.Ingest(ctx, Request{
		Bucket:     sub.Bucket,
		IngestKey:  sub.IngestKey,
		DeviceCode: sub.DeviceCode,
		Objects:    sub.Objects,
		Capture:    capture,
		Source:     sub.Source,
		BytesIn:    sub.BytesIn,
		StartedAt:  sub.StartedAt,
	})
}

// Ingest stores a normalized capture. A known ingest key returns the existing
// scan with Created false. Database failures roll the whole capture back and
// come back as *scanning.PersistenceError.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.Capture == nil {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "capture metadata is required")
	}
	if strings.TrimSpace(req.IngestKey) == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "ingest key is required")
	}
	started := req.StartedAt
	if started.IsZero() {
		started = s.now()
	}

	ctx = logger.WithIngestKey(ctx, req.IngestKey)
	ctx, span := telemetry.StartSpan(ctx, "ingest.capture",
		telemetry.SpanAttrIngestKey, req.IngestKey,
		telemetry.SpanAttrCaptureID, req.Capture.CaptureID,
		telemetry.SpanAttrSource, req.Source,
		telemetry.SpanAttrBucket, req.Bucket,
	)
	defer span.End()

	if result, err := s.duplicateOf(ctx, req, started); err != nil || result != nil {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.SetOK(span)
		}
		return result, err
	}

	var scan *scanning.Scan
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			var txErr error
			scan, txErr = s.persist(ctx, repos, req, started)
			return txErr
		})
		if err == nil || !errors.Is(err, shared.ErrAlreadyExists) {
			break
		}
		// A concurrent request won the insert race for this key or one of
		// its entities; the unique constraints are the arbiter.
		result, dupErr := s.duplicateOf(ctx, req, started)
		if dupErr != nil {
			err = dupErr
			break
		}
		if result != nil {
			telemetry.SetOK(span)
			return result, nil
		}
	}
	if err != nil {
		return nil, s.fail(ctx, span, req, started, err)
	}

	elapsed := s.now().Sub(started)
	contextLogger(ctx, s.logger).Info("Scan ingested",
		zap.String("capture_id", req.Capture.CaptureID),
		zap.String("scan_id", scan.ID.String()),
		zap.String("source", req.Source),
		zap.String("status", StatusSuccess),
		zap.Duration("elapsed", elapsed))
	s.recordMetric(ctx, req.Source, telemetry.IngestStatusCreated, elapsed)
	telemetry.SetOK(span)

	return &Result{
		Created:   true,
		ScanID:    scan.ID,
		CaptureID: scan.CaptureID,
		Status:    StatusSuccess,
		Message:   MessageIngested,
	}, nil
}

// duplicateOf returns a duplicate result when a scan already holds the ingest
// key, nil when it does not.
func (s *Service) duplicateOf(ctx context.Context, req Request, started time.Time) (*Result, error) {
	existing, err := s.scans.FindByIngestKey(ctx, req.IngestKey)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &scanning.PersistenceError{Op: "check ingest key", Err: err}
	}

	elapsed := s.now().Sub(started)
	entry := scanning.NewIngestionLog(existing.CaptureID, req.IngestKey, http.StatusOK, req.BytesIn, elapsed, "")
	if err := s.logs.Create(ctx, entry); err != nil {
		contextLogger(ctx, s.logger).Warn("Failed to record duplicate ingestion", zap.Error(err))
	}

	contextLogger(ctx, s.logger).Info("Scan already ingested",
		zap.String("capture_id", existing.CaptureID),
		zap.String("scan_id", existing.ID.String()),
		zap.String("source", req.Source),
		zap.String("status", StatusDuplicate),
		zap.Duration("elapsed", elapsed))
	s.recordMetric(ctx, req.Source, telemetry.IngestStatusDuplicate, elapsed)

	return &Result{
		Created:   false,
		ScanID:    existing.ID,
		CaptureID: existing.CaptureID,
		Status:    StatusDuplicate,
		Message:   MessageDuplicate,
	}, nil
}

// persist writes the device, assets, herd, scan, event and audit row. It runs
// inside one transaction.
func (s *Service) persist(ctx context.Context, repos TransactionalRepositories, req Request, started time.Time) (*scanning.Scan, error) {
	capture := req.Capture
	now := s.now()

	deviceCode := strings.TrimSpace(req.DeviceCode)
	if deviceCode == "" {
		deviceCode = capture.DeviceCode
	}
	device, err := s.upsertDevice(ctx, repos.Devices(), deviceCode, now)
	if err != nil {
		return nil, err
	}

	scan := scanning.NewScan(capture.CaptureID, req.IngestKey, device.ID, capture.CapturedAt)

	present := make(map[string]bool, len(req.Objects))
	for _, obj := range req.Objects {
		present[obj] = true
	}
	overlays := []struct {
		relPath string
		sha     string
		target  **uuid.UUID
	}{
		{capture.Files.ImageRelPath, capture.ImageSHA256, &scan.ImageAssetID},
		{capture.Files.MaskRelPath, capture.MaskSHA256, &scan.MaskAssetID},
		{capture.Files.BackfatLineRelPath, capture.BackfatLineSHA256, &scan.BackfatLineAssetID},
	}
	for _, o := range overlays {
		if o.relPath == "" || !present[o.relPath] {
			continue
		}
		asset, err := s.findOrCreateAsset(ctx, repos.Assets(), req.Bucket, req.IngestKey+o.relPath, o.sha)
		if err != nil {
			return nil, err
		}
		id := asset.ID
		*o.target = &id
	}

	var farmID *uuid.UUID
	if capture.GPS != nil {
		farmID, err = repos.Geofences().ResolveFarm(ctx, capture.GPS)
		if err != nil {
			return nil, fmt.Errorf("resolve farm: %w", err)
		}
		gps := *capture.GPS
		scan.GPS = &gps
	}
	scan.FarmID = farmID

	group, err := s.resolver.ResolveGroup(ctx, repos.Groups(), capture.GroupExternalID, capture.GroupNameHint, farmID)
	if err != nil {
		return nil, err
	}
	var groupID *uuid.UUID
	animalFarm := farmID
	if group != nil {
		id := group.ID
		groupID = &id
		if animalFarm == nil {
			animalFarm = group.FarmID
		}
	}
	scan.GroupID = groupID

	animal, err := s.resolver.ResolveAnimal(ctx, repos.Animals(), capture.AnimalRFID, animalFarm, groupID)
	if err != nil {
		return nil, err
	}
	if animal != nil {
		id := animal.ID
		scan.AnimalID = &id
	}
	if capture.AnimalRFID != "" {
		rfid := capture.AnimalRFID
		scan.AnimalRFID = &rfid
	}

	scan.IMF = capture.IMF
	scan.BackfatThickness = capture.BackfatThickness
	scan.AnimalWeight = capture.AnimalWeight
	scan.RibeyeArea = capture.RibeyeArea
	scan.Clarity = capture.Clarity
	scan.Usability = capture.Usability
	scan.Label = capture.Label
	scan.Grading = capture.Grading
	scan.Meta = capture.Document

	if err := repos.Scans().Create(ctx, scan); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}

	objects := make([]any, len(req.Objects))
	for i, obj := range req.Objects {
		objects[i] = obj
	}
	event := scanning.NewScanEvent(scan.ID, scanning.EventIngested, map[string]any{
		"source":      req.Source,
		"device_code": device.Code,
		"objects":     objects,
		"firmware":    capture.Firmware,
		"probe":       capture.Probe,
	})
	if err := repos.Events().Create(ctx, event); err != nil {
		return nil, fmt.Errorf("create scan event: %w", err)
	}

	entry := scanning.NewIngestionLog(scan.CaptureID, req.IngestKey, http.StatusOK, req.BytesIn, s.now().Sub(started), "")
	if err := repos.IngestionLogs().Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create ingestion log: %w", err)
	}
	return scan, nil
}

func (s *Service) upsertDevice(ctx context.Context, devices scanning.DeviceRepository, code string, now time.Time) (*scanning.Device, error) {
	device, err := devices.FindByCode(ctx, code)
	switch {
	case err == nil:
		if err := devices.RecordCapture(ctx, device, now); err != nil {
			return nil, fmt.Errorf("record device capture: %w", err)
		}
		return device, nil
	case errors.Is(err, shared.ErrNotFound):
		if device, err = scanning.NewDevice(code, now); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("find device: %w", err)
	}
	if err := devices.Save(ctx, device); err != nil {
		return nil, fmt.Errorf("save device: %w", err)
	}
	return device, nil
}

func (s *Service) findOrCreateAsset(ctx context.Context, assets scanning.AssetRepository, bucket, key, sha string) (*scanning.Asset, error) {
	asset, err := assets.FindByLocation(ctx, bucket, key)
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("find asset: %w", err)
	}
	if sha == "" {
		sha = UnverifiedHash
	}
	asset = scanning.NewAsset(bucket, key, sha)
	if err := assets.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}
	return asset, nil
}

// fail records the failed attempt outside the rolled-back transaction. Input
// errors come back unchanged with a 400 audit row; everything else is wrapped
// as a *scanning.PersistenceError.
func (s *Service) fail(ctx context.Context, span trace.Span, req Request, started time.Time, cause error) error {
	status, outcome := http.StatusInternalServerError, telemetry.IngestStatusFailed
	var persistErr *scanning.PersistenceError
	var domainErr *shared.DomainError
	switch {
	case errors.As(cause, &persistErr):
		cause = persistErr
	case errors.As(cause, &domainErr) && isInputError(domainErr):
		status, outcome = http.StatusBadRequest, telemetry.IngestStatusRejected
	default:
		cause = &scanning.PersistenceError{Op: "ingest capture", Err: cause}
	}
	telemetry.RecordError(span, cause)

	elapsed := s.now().Sub(started)
	entry := scanning.NewIngestionLog(req.Capture.CaptureID, req.IngestKey, status, req.BytesIn, elapsed, cause.Error())
	if err := s.logs.Create(ctx, entry); err != nil {
		contextLogger(ctx, s.logger).Warn("Failed to record failed ingestion", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("capture_id", req.Capture.CaptureID),
		zap.String("source", req.Source),
		zap.String("status", outcome),
		zap.Duration("elapsed", elapsed),
		zap.Error(cause),
	}
	if status == http.StatusBadRequest {
		contextLogger(ctx, s.logger).Warn("Scan ingestion rejected", fields...)
	} else {
		contextLogger(ctx, s.logger).Error("Scan ingestion failed", fields...)
	}
	s.recordMetric(ctx, req.Source, outcome, elapsed)
	return cause
}

func isInputError(err *shared.DomainError) bool {
	return err.Code == shared.CodeInvalidInput || err.Code == shared.CodeMalformedInput
}

func (s *Service) recordMetric(ctx context.Context, source, status string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordIngest(ctx, source, status, elapsed)
	}
}

// Rejection describes a capture turned away by schema validation.
type Rejection struct {
	CaptureID string
	IngestKey string
	Source    string
	BytesIn   int64
	StartedAt time.Time
	Err       *scanning.SchemaValidationError
}

// RecordRejection writes the 400 audit row for a schema failure. Logging
// problems are reported but never replace the schema error.
func (s *Service) RecordRejection(ctx context.Context, r Rejection) {
	started := r.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	captureID := r.CaptureID
	if captureID == "" {
		captureID = "unknown"
	}
	elapsed := s.now().Sub(started)
	msg := "Schema validation failed: " + r.Err.Error()

	log := contextLogger(ctx, s.logger).With(
		zap.String("ingest_key", r.IngestKey),
		zap.String("capture_id", captureID),
		zap.String("source", r.Source))
	if err := s.logs.Create(ctx, scanning.NewIngestionLog(captureID, r.IngestKey, http.StatusBadRequest, r.BytesIn, elapsed, msg)); err != nil {
		log.Warn("Failed to record schema rejection", zap.Error(err))
	}
	log.Info("Scan rejected",
		zap.String("status", telemetry.IngestStatusRejected),
		zap.String("path", r.Err.Path),
		zap.String("reason", r.Err.Message),
		zap.Duration("elapsed", elapsed))
	s.recordMetric(ctx, r.Source, telemetry.IngestStatusRejected, elapsed)
}

// contextLogger prefers the request-scoped logger over the service's own.
func contextLogger(ctx context.Context, fallback *zap.Logger) *logger.ContextLogger {
	if l, ok := ctx.Value(logger.LoggerKey).(*zap.Logger); ok {
		return logger.WithLogger(ctx, l)
	}
	return logger.WithLogger(ctx, fallback)
}
