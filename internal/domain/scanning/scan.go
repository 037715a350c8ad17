package scanning

import (
	"strings"
	"time"

	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// ScanStatus is the lifecycle state of a scan
type ScanStatus string

const (
	ScanStatusUploaded ScanStatus = "uploaded"
	ScanStatusIngested ScanStatus = "ingested"
	ScanStatusGraded   ScanStatus = "graded"
	ScanStatusError    ScanStatus = "error"
)

// Quality grades image clarity and usability
type Quality string

const (
	QualityGood   Quality = "good"
	QualityMedium Quality = "medium"
	QualityBad    Quality = "bad"
)

// ParseQuality maps free text to a Quality. Anything unrecognised is bad, so a
// reviewer has to upgrade it explicitly.
func ParseQuality(s string) Quality {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityGood, QualityMedium, QualityBad:
		return q
	default:
		return QualityBad
	}
}

// Event names written to the scan audit trail
const (
	EventIngested = "ingested"
)

// Scan is one ingested capture. IngestKey is the idempotency key.
type Scan struct {
	shared.BaseEntity
	CaptureID  string
	IngestKey  string
	DeviceID   uuid.UUID
	FarmID     *uuid.UUID
	AnimalID   *uuid.UUID
	GroupID    *uuid.UUID
	OperatorID *uuid.UUID
	GPS        *orb.Point
	CapturedAt time.Time
	Status     ScanStatus

	ImageAssetID       *uuid.UUID
	MaskAssetID        *uuid.UUID
	BackfatLineAssetID *uuid.UUID

	// Zero means "not measured"; captures omitting a value are stored as zero.
	IMF              decimal.Decimal
	BackfatThickness decimal.Decimal
	AnimalWeight     decimal.Decimal
	RibeyeArea       decimal.Decimal

	AnimalRFID *string
	Clarity    Quality
	Usability  Quality
	Label      *string
	Grading    *string

	// Meta keeps the full normalized capture metadata for audit and replay.
	Meta map[string]any
}

// NewScan creates a scan in the ingested state.
func NewScan(captureID, ingestKey string, deviceID uuid.UUID, capturedAt time.Time) *Scan {
	return &Scan{
		BaseEntity: shared.NewBaseEntity(),
		CaptureID:  captureID,
		IngestKey:  ingestKey,
		DeviceID:   deviceID,
		CapturedAt: capturedAt,
		Status:     ScanStatusIngested,
		Clarity:    QualityBad,
		Usability:  QualityBad,
		Meta:       map[string]any{},
	}
}

// OwnedAssetIDs lists the asset rows that belong to this scan alone.
func (s *Scan) OwnedAssetIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, 3)
	for _, id := range []*uuid.UUID{s.ImageAssetID, s.MaskAssetID, s.BackfatLineAssetID} {
		if id != nil {
			ids = append(ids, *id)
		}
	}
	return ids
}

// ScanEvent is an append-only audit row attached to a scan.
type ScanEvent struct {
	shared.BaseEntity
	ScanID  uuid.UUID
	Name    string
	Payload map[string]any
}

// NewScanEvent creates an audit row for a scan.
func NewScanEvent(scanID uuid.UUID, name string, payload map[string]any) *ScanEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	return &ScanEvent{
		BaseEntity: shared.NewBaseEntity(),
		ScanID:     scanID,
		Name:       name,
		Payload:    payload,
	}
}

// IngestionLog records one ingestion attempt, successful or not.
type IngestionLog struct {
	shared.BaseEntity
	CaptureID  string
	IngestKey  string
	HTTPStatus int
	BytesIn    int64
	Ms         int64
	Error      *string
}

// NewIngestionLog creates an attempt record. An empty errText stores no error.
func NewIngestionLog(captureID, ingestKey string, status int, bytesIn int64, elapsed time.Duration, errText string) *IngestionLog {
	l := &IngestionLog{
		BaseEntity: shared.NewBaseEntity(),
		CaptureID:  captureID,
		IngestKey:  ingestKey,
		HTTPStatus: status,
		BytesIn:    bytesIn,
		Ms:         elapsed.Milliseconds(),
	}
	if errText != "" {
		l.Error = &errText
	}
	return l
}
