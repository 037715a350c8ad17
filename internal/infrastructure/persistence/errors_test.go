package persistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestTranslateWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		exists bool
	}{
		{"gorm translated", gorm.ErrDuplicatedKey, true},
		{"pgx unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"pgx foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"lib/pq unique violation", &pq.Error{Code: "23505"}, true},
		{"sqlite message", errors.New("UNIQUE constraint failed: scans.ingest_key"), true},
		{"other failure", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateWriteError(tt.err)
			assert.Equal(t, tt.exists, errors.Is(got, shared.ErrAlreadyExists))
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.NoError(t, translateWriteError(nil))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `raw/dev\_01/50\%/a\\b`, escapeLike(`raw/dev_01/50%/a\b`))
	assert.Equal(t, "raw/", escapeLike("raw/"))
}
