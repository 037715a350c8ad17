package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewBaseEntityAt(t *testing.T) {
	at := time.Date(2025, 1, 1, 14, 0, 0, 0, time.FixedZone("CST", 8*3600))

	e := NewBaseEntityAt(at)

	assert.False(t, e.IsNew())
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.True(t, e.CreatedAt.Equal(at))
	assert.Equal(t, e.CreatedAt, e.UpdatedAt)
}

func TestBaseEntity_Touch(t *testing.T) {
	e := NewBaseEntity()
	created := e.CreatedAt
	later := created.Add(time.Minute)

	e.Touch(later)

	assert.Equal(t, created, e.CreatedAt)
	assert.True(t, e.UpdatedAt.Equal(later))
}

func TestBaseEntity_IsNew(t *testing.T) {
	assert.True(t, (&BaseEntity{}).IsNew())
}
