package scanning

import (
	"strings"
	"time"

	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/google/uuid"
)

// DefaultGroupName names a group created from a capture that carried neither a
// name nor an external ID.
const DefaultGroupName = "Auto herd"

// Group is a herd or cohort of animals. ExternalID is the identity when present.
type Group struct {
	shared.BaseEntity
	Name       string
	ExternalID *string
	BornDate   *time.Time
	FarmID     *uuid.UUID
}

// NewGroup creates a group, naming it from the name hint, then the external ID,
// then DefaultGroupName.
func NewGroup(externalID, nameHint string, farmID *uuid.UUID) *Group {
	externalID = strings.TrimSpace(externalID)
	name := strings.TrimSpace(nameHint)
	if name == "" {
		name = externalID
	}
	if name == "" {
		name = DefaultGroupName
	}

	g := &Group{
		BaseEntity: shared.NewBaseEntity(),
		Name:       name,
		FarmID:     cloneID(farmID),
	}
	if externalID != "" {
		g.ExternalID = &externalID
	}
	return g
}

// BackfillFarm sets the farm only when none is assigned yet and reports whether
// anything changed. An existing farm is never overwritten.
func (g *Group) BackfillFarm(farmID *uuid.UUID) bool {
	if g.FarmID != nil || farmID == nil {
		return false
	}
	g.FarmID = cloneID(farmID)
	g.Touch(time.Now())
	return true
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
