package scanning

import (
	"fmt"
	"strings"
	"time"

	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/google/uuid"
)

// Device is a field capture unit identified by its device code.
// Devices are created on their first capture and never deleted by ingestion.
type Device struct {
	shared.BaseEntity
	Code          string
	Label         *string
	FarmID        *uuid.UUID
	S3PrefixHint  string
	LastSeenAt    *time.Time
	LastUploadAt  *time.Time
	CapturesCount int
}

// NewDevice registers a device seen for the first time. The first capture counts.
func NewDevice(code string, now time.Time) (*Device, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Device code cannot be empty")
	}
	if len(code) > 128 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "Device code cannot exceed 128 characters")
	}

	d := &Device{
		BaseEntity:    shared.NewBaseEntityAt(now),
		Code:          code,
		S3PrefixHint:  DevicePrefixHint(code),
		CapturesCount: 1,
	}
	d.LastSeenAt = &now
	d.LastUploadAt = &now
	return d, nil
}

// RecordCapture bumps the capture counter for a repeat upload.
func (d *Device) RecordCapture(now time.Time) {
	d.CapturesCount++
	d.LastUploadAt = &now
	d.LastSeenAt = &now
	d.Touch(now)
}

// DevicePrefixHint is the storage prefix under which a device usually uploads.
func DevicePrefixHint(code string) string {
	return fmt.Sprintf("raw/%s/", code)
}
