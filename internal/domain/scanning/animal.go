package scanning

import (
	"fmt"
	"strings"
	"time"

	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/google/uuid"
)

// autoTagPrefix prefixes tags generated for animals seen without an RFID.
const autoTagPrefix = "auto-tag-"

// Animal is an individual animal, identified by RFID when one was read.
type Animal struct {
	shared.BaseEntity
	Tag       string
	RFID      *string
	Breed     *string
	Sex       *string
	BirthDate *time.Time
	FarmID    *uuid.UUID
	GroupID   *uuid.UUID
}

// NewAnimal creates an animal. Without an RFID the tag is synthesised from the clock.
func NewAnimal(rfid string, farmID, groupID *uuid.UUID, now time.Time) *Animal {
	rfid = strings.TrimSpace(rfid)
	a := &Animal{
		BaseEntity: shared.NewBaseEntity(),
		FarmID:     cloneID(farmID),
		GroupID:    cloneID(groupID),
	}
	if rfid != "" {
		a.Tag = rfid
		a.RFID = &rfid
	} else {
		a.Tag = fmt.Sprintf("%s%d", autoTagPrefix, now.UnixNano())
	}
	return a
}

// TrackContext follows the latest capture's farm and group. Nil values never
// clear an existing reference. Reports whether anything changed.
func (a *Animal) TrackContext(farmID, groupID *uuid.UUID) bool {
	changed := false
	if farmID != nil && (a.FarmID == nil || *a.FarmID != *farmID) {
		a.FarmID = cloneID(farmID)
		changed = true
	}
	if groupID != nil && (a.GroupID == nil || *a.GroupID != *groupID) {
		a.GroupID = cloneID(groupID)
		changed = true
	}
	if changed {
		a.Touch(time.Now())
	}
	return changed
}
