package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var modelLogger = zap.L().Named("scanning.models")

// DeviceModel is the persistence model for a capture device.
type DeviceModel struct {
	BaseModel
	Code          string     `gorm:"column:device_code;type:varchar(128);not null;uniqueIndex"`
	Label         *string    `gorm:"type:varchar(255)"`
	FarmID        *uuid.UUID `gorm:"type:uuid;index"`
	S3PrefixHint  string     `gorm:"column:s3_prefix_hint;type:varchar(512)"`
	LastSeenAt    *time.Time
	LastUploadAt  *time.Time
	CapturesCount int `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (DeviceModel) TableName() string {
	return "devices"
}

// ToDomain converts the persistence model to a domain Device.
func (m *DeviceModel) ToDomain() *scanning.Device {
	return &scanning.Device{
		BaseEntity:    m.BaseModel.ToDomain(),
		Code:          m.Code,
		Label:         m.Label,
		FarmID:        m.FarmID,
		S3PrefixHint:  m.S3PrefixHint,
		LastSeenAt:    m.LastSeenAt,
		LastUploadAt:  m.LastUploadAt,
		CapturesCount: m.CapturesCount,
	}
}

// DeviceModelFromDomain creates a persistence model from a domain Device.
func DeviceModelFromDomain(d *scanning.Device) *DeviceModel {
	m := &DeviceModel{
		Code:          d.Code,
		Label:         d.Label,
		FarmID:        d.FarmID,
		S3PrefixHint:  d.S3PrefixHint,
		LastSeenAt:    d.LastSeenAt,
		LastUploadAt:  d.LastUploadAt,
		CapturesCount: d.CapturesCount,
	}
	m.FromDomainBaseEntity(d.BaseEntity)
	return m
}

// GroupModel is the persistence model for a herd.
type GroupModel struct {
	BaseModel
	Name       string     `gorm:"type:varchar(255);not null;index"`
	ExternalID *string    `gorm:"type:varchar(255);uniqueIndex"`
	BornDate   *time.Time `gorm:"type:date"`
	FarmID     *uuid.UUID `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (GroupModel) TableName() string {
	return "groups"
}

// ToDomain converts the persistence model to a domain Group.
func (m *GroupModel) ToDomain() *scanning.Group {
	return &scanning.Group{
		BaseEntity: m.BaseModel.ToDomain(),
		Name:       m.Name,
		ExternalID: m.ExternalID,
		BornDate:   m.BornDate,
		FarmID:     m.FarmID,
	}
}

// GroupModelFromDomain creates a persistence model from a domain Group.
func GroupModelFromDomain(g *scanning.Group) *GroupModel {
	m := &GroupModel{
		Name:       g.Name,
		ExternalID: g.ExternalID,
		BornDate:   g.BornDate,
		FarmID:     g.FarmID,
	}
	m.FromDomainBaseEntity(g.BaseEntity)
	return m
}

// AnimalModel is the persistence model for an animal.
type AnimalModel struct {
	BaseModel
	Tag       string     `gorm:"type:varchar(128);not null;index"`
	RFID      *string    `gorm:"column:rfid;type:varchar(128);uniqueIndex"`
	Breed     *string    `gorm:"type:varchar(128)"`
	Sex       *string    `gorm:"type:varchar(16)"`
	BirthDate *time.Time `gorm:"type:date"`
	FarmID    *uuid.UUID `gorm:"type:uuid;index"`
	GroupID   *uuid.UUID `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (AnimalModel) TableName() string {
	return "animals"
}

// ToDomain converts the persistence model to a domain Animal.
func (m *AnimalModel) ToDomain() *scanning.Animal {
	return &scanning.Animal{
		BaseEntity: m.BaseModel.ToDomain(),
		Tag:        m.Tag,
		RFID:       m.RFID,
		Breed:      m.Breed,
		Sex:        m.Sex,
		BirthDate:  m.BirthDate,
		FarmID:     m.FarmID,
		GroupID:    m.GroupID,
	}
}

// AnimalModelFromDomain creates a persistence model from a domain Animal.
func AnimalModelFromDomain(a *scanning.Animal) *AnimalModel {
	m := &AnimalModel{
		Tag:       a.Tag,
		RFID:      a.RFID,
		Breed:     a.Breed,
		Sex:       a.Sex,
		BirthDate: a.BirthDate,
		FarmID:    a.FarmID,
		GroupID:   a.GroupID,
	}
	m.FromDomainBaseEntity(a.BaseEntity)
	return m
}

// AssetModel is the persistence model for a stored capture file.
type AssetModel struct {
	BaseModel
	Bucket    string `gorm:"type:varchar(255);not null;uniqueIndex:uq_assets_bucket_key,priority:1"`
	ObjectKey string `gorm:"type:varchar(1024);not null;uniqueIndex:uq_assets_bucket_key,priority:2"`
	SHA256    string `gorm:"column:sha256;type:char(64);not null"`
	SizeBytes *int64
	MimeType  string `gorm:"type:varchar(100);not null"`
}

// TableName returns the table name for GORM
func (AssetModel) TableName() string {
	return "assets"
}

// ToDomain converts the persistence model to a domain Asset.
func (m *AssetModel) ToDomain() *scanning.Asset {
	return &scanning.Asset{
		BaseEntity: m.BaseModel.ToDomain(),
		Bucket:     m.Bucket,
		ObjectKey:  m.ObjectKey,
		SHA256:     m.SHA256,
		SizeBytes:  m.SizeBytes,
		MimeType:   m.MimeType,
	}
}

// AssetModelFromDomain creates a persistence model from a domain Asset.
func AssetModelFromDomain(a *scanning.Asset) *AssetModel {
	m := &AssetModel{
		Bucket:    a.Bucket,
		ObjectKey: a.ObjectKey,
		SHA256:    a.SHA256,
		SizeBytes: a.SizeBytes,
		MimeType:  a.MimeType,
	}
	m.FromDomainBaseEntity(a.BaseEntity)
	return m
}

// FarmModel is the persistence model for a farm and its legacy single geofence.
type FarmModel struct {
	BaseModel
	Name     string    `gorm:"type:varchar(255);not null"`
	Geofence *Geometry `gorm:"column:geofence"`
	Centroid *Geometry `gorm:"column:centroid"`
}

// TableName returns the table name for GORM
func (FarmModel) TableName() string {
	return "farms"
}

// ToDomain converts the persistence model to a domain Farm.
func (m *FarmModel) ToDomain() *scanning.Farm {
	return &scanning.Farm{
		BaseEntity: m.BaseModel.ToDomain(),
		Name:       m.Name,
		Geofence:   m.Geofence.Polygon(),
		Centroid:   m.Centroid.Point(),
	}
}

// FarmModelFromDomain creates a persistence model from a domain Farm.
func FarmModelFromDomain(f *scanning.Farm) *FarmModel {
	m := &FarmModel{Name: f.Name}
	if f.Geofence != nil {
		m.Geofence = NewGeometry(f.Geofence)
	}
	if f.Centroid != nil {
		m.Centroid = NewGeometry(*f.Centroid)
	}
	m.FromDomainBaseEntity(f.BaseEntity)
	return m
}

// FarmGeofenceModel is one parcel of a farm. Rows cascade with their farm.
type FarmGeofenceModel struct {
	BaseModel
	FarmID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Label    *string   `gorm:"type:varchar(255)"`
	Geometry Geometry  `gorm:"column:geometry;not null"`
}

// TableName returns the table name for GORM
func (FarmGeofenceModel) TableName() string {
	return "farm_geofences"
}

// ToDomain converts the persistence model to a domain FarmGeofence.
func (m *FarmGeofenceModel) ToDomain() *scanning.FarmGeofence {
	return &scanning.FarmGeofence{
		BaseEntity: m.BaseModel.ToDomain(),
		FarmID:     m.FarmID,
		Label:      m.Label,
		Geometry:   m.Geometry.Geometry,
	}
}

// FarmGeofenceModelFromDomain creates a persistence model from a domain FarmGeofence.
func FarmGeofenceModelFromDomain(g *scanning.FarmGeofence) *FarmGeofenceModel {
	m := &FarmGeofenceModel{
		FarmID:   g.FarmID,
		Label:    g.Label,
		Geometry: Geometry{Geometry: g.Geometry},
	}
	m.FromDomainBaseEntity(g.BaseEntity)
	return m
}

// ScanModel is the persistence model for an ingested scan.
// ingest_key is unique and backs the idempotency check.
type ScanModel struct {
	BaseModel
	CaptureID  string     `gorm:"type:varchar(64);not null;index"`
	IngestKey  string     `gorm:"type:varchar(1024);not null;uniqueIndex"`
	DeviceID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	FarmID     *uuid.UUID `gorm:"type:uuid;index"`
	AnimalID   *uuid.UUID `gorm:"type:uuid;index"`
	GroupID    *uuid.UUID `gorm:"type:uuid;index"`
	OperatorID *uuid.UUID `gorm:"type:uuid"`
	GPS        *Geometry  `gorm:"column:gps"`
	CapturedAt time.Time  `gorm:"not null;index"`
	Status     string     `gorm:"type:varchar(20);not null;index"`

	ImageAssetID       *uuid.UUID `gorm:"type:uuid"`
	MaskAssetID        *uuid.UUID `gorm:"type:uuid"`
	BackfatLineAssetID *uuid.UUID `gorm:"type:uuid"`

	IMF              decimal.Decimal `gorm:"column:imf;type:numeric(6,4);not null;default:0"`
	BackfatThickness decimal.Decimal `gorm:"type:numeric(6,3);not null;default:0"`
	AnimalWeight     decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	RibeyeArea       decimal.Decimal `gorm:"type:numeric(8,2);not null;default:0"`

	AnimalRFID *string `gorm:"column:animal_rfid;type:varchar(128)"`
	Clarity    string  `gorm:"type:varchar(10);not null"`
	Usability  string  `gorm:"type:varchar(10);not null"`
	Label      *string `gorm:"type:varchar(255)"`
	Grading    *string `gorm:"type:varchar(64)"`
	MetaJSON   string  `gorm:"column:meta;type:jsonb;not null;default:'{}'"`
}

// TableName returns the table name for GORM
func (ScanModel) TableName() string {
	return "scans"
}

// ToDomain converts the persistence model to a domain Scan.
func (m *ScanModel) ToDomain() *scanning.Scan {
	return &scanning.Scan{
		BaseEntity:         m.BaseModel.ToDomain(),
		CaptureID:          m.CaptureID,
		IngestKey:          m.IngestKey,
		DeviceID:           m.DeviceID,
		FarmID:             m.FarmID,
		AnimalID:           m.AnimalID,
		GroupID:            m.GroupID,
		OperatorID:         m.OperatorID,
		GPS:                m.GPS.Point(),
		CapturedAt:         m.CapturedAt,
		Status:             scanning.ScanStatus(m.Status),
		ImageAssetID:       m.ImageAssetID,
		MaskAssetID:        m.MaskAssetID,
		BackfatLineAssetID: m.BackfatLineAssetID,
		IMF:                m.IMF,
		BackfatThickness:   m.BackfatThickness,
		AnimalWeight:       m.AnimalWeight,
		RibeyeArea:         m.RibeyeArea,
		AnimalRFID:         m.AnimalRFID,
		Clarity:            scanning.Quality(m.Clarity),
		Usability:          scanning.Quality(m.Usability),
		Label:              m.Label,
		Grading:            m.Grading,
		Meta:               decodeJSONMap(m.MetaJSON, "meta", m.IngestKey),
	}
}

// ScanModelFromDomain creates a persistence model from a domain Scan.
func ScanModelFromDomain(s *scanning.Scan) (*ScanModel, error) {
	meta, err := encodeJSONMap(s.Meta)
	if err != nil {
		return nil, err
	}
	m := &ScanModel{
		CaptureID:          s.CaptureID,
		IngestKey:          s.IngestKey,
		DeviceID:           s.DeviceID,
		FarmID:             s.FarmID,
		AnimalID:           s.AnimalID,
		GroupID:            s.GroupID,
		OperatorID:         s.OperatorID,
		CapturedAt:         s.CapturedAt,
		Status:             string(s.Status),
		ImageAssetID:       s.ImageAssetID,
		MaskAssetID:        s.MaskAssetID,
		BackfatLineAssetID: s.BackfatLineAssetID,
		IMF:                s.IMF,
		BackfatThickness:   s.BackfatThickness,
		AnimalWeight:       s.AnimalWeight,
		RibeyeArea:         s.RibeyeArea,
		AnimalRFID:         s.AnimalRFID,
		Clarity:            string(s.Clarity),
		Usability:          string(s.Usability),
		Label:              s.Label,
		Grading:            s.Grading,
		MetaJSON:           meta,
	}
	if s.GPS != nil {
		m.GPS = NewGeometry(*s.GPS)
	}
	m.FromDomainBaseEntity(s.BaseEntity)
	return m, nil
}

// ScanEventModel is an append-only audit row for a scan.
type ScanEventModel struct {
	BaseModel
	ScanID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Name        string    `gorm:"column:event;type:varchar(64);not null"`
	PayloadJSON string    `gorm:"column:payload;type:jsonb;not null;default:'{}'"`
}

// TableName returns the table name for GORM
func (ScanEventModel) TableName() string {
	return "scan_events"
}

// ToDomain converts the persistence model to a domain ScanEvent.
func (m *ScanEventModel) ToDomain() *scanning.ScanEvent {
	return &scanning.ScanEvent{
		BaseEntity: m.BaseModel.ToDomain(),
		ScanID:     m.ScanID,
		Name:       m.Name,
		Payload:    decodeJSONMap(m.PayloadJSON, "payload", m.ScanID.String()),
	}
}

// ScanEventModelFromDomain creates a persistence model from a domain ScanEvent.
func ScanEventModelFromDomain(e *scanning.ScanEvent) (*ScanEventModel, error) {
	payload, err := encodeJSONMap(e.Payload)
	if err != nil {
		return nil, err
	}
	m := &ScanEventModel{
		ScanID:      e.ScanID,
		Name:        e.Name,
		PayloadJSON: payload,
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m, nil
}

// IngestionLogModel records one ingestion attempt.
type IngestionLogModel struct {
	BaseModel
	CaptureID  string  `gorm:"type:varchar(64);not null;index"`
	IngestKey  string  `gorm:"type:varchar(1024);not null;index"`
	HTTPStatus int     `gorm:"column:http_status;not null"`
	BytesIn    int64   `gorm:"not null;default:0"`
	Ms         int64   `gorm:"not null;default:0"`
	Error      *string `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (IngestionLogModel) TableName() string {
	return "ingestion_logs"
}

// ToDomain converts the persistence model to a domain IngestionLog.
func (m *IngestionLogModel) ToDomain() *scanning.IngestionLog {
	return &scanning.IngestionLog{
		BaseEntity: m.BaseModel.ToDomain(),
		CaptureID:  m.CaptureID,
		IngestKey:  m.IngestKey,
		HTTPStatus: m.HTTPStatus,
		BytesIn:    m.BytesIn,
		Ms:         m.Ms,
		Error:      m.Error,
	}
}

// IngestionLogModelFromDomain creates a persistence model from a domain IngestionLog.
func IngestionLogModelFromDomain(l *scanning.IngestionLog) *IngestionLogModel {
	m := &IngestionLogModel{
		CaptureID:  l.CaptureID,
		IngestKey:  l.IngestKey,
		HTTPStatus: l.HTTPStatus,
		BytesIn:    l.BytesIn,
		Ms:         l.Ms,
		Error:      l.Error,
	}
	m.FromDomainBaseEntity(l.BaseEntity)
	return m
}

// ScanningModels lists every model in migration order.
func ScanningModels() []any {
	return []any{
		&FarmModel{},
		&FarmGeofenceModel{},
		&DeviceModel{},
		&GroupModel{},
		&AnimalModel{},
		&AssetModel{},
		&ScanModel{},
		&ScanEventModel{},
		&IngestionLogModel{},
	}
}

func encodeJSONMap(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeJSONMap keeps numbers as json.Number so measurements survive unchanged.
func decodeJSONMap(raw, column, owner string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		modelLogger.Warn("failed to parse JSON column",
			zap.String("column", column),
			zap.String("owner", owner),
			zap.Error(err))
		return map[string]any{}
	}
	return out
}
