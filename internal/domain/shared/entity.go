package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries the surrogate key and audit timestamps shared by every
// persisted scanning record.
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity creates a base entity with a fresh ID, stamped now
func NewBaseEntity() BaseEntity {
	return NewBaseEntityAt(time.Now())
}

// NewBaseEntityAt creates a base entity stamped with the given time
func NewBaseEntityAt(at time.Time) BaseEntity {
	at = at.UTC()
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Touch records a modification
func (e *BaseEntity) Touch(at time.Time) {
	e.UpdatedAt = at.UTC()
}

// IsNew reports whether the entity has not been assigned an ID
func (e *BaseEntity) IsNew() bool {
	return e.ID == uuid.Nil
}
