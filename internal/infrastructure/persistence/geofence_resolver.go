package persistence

import (
	"context"
	"fmt"

	"github.com/cti/scanhub/internal/domain/scanning"
	"github.com/cti/scanhub/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gorm.io/gorm"
)

// NewGeofenceResolver picks the PostGIS resolver on postgres and the planar
// resolver everywhere else.
func NewGeofenceResolver(db *gorm.DB) scanning.GeofenceResolver {
	if db.Dialector.Name() == "postgres" {
		return NewPostGISGeofenceResolver(db)
	}
	return NewPlanarGeofenceResolver(db)
}

// PostGISGeofenceResolver resolves farms with ST_Contains inside the database.
type PostGISGeofenceResolver struct {
	db *gorm.DB
}

// NewPostGISGeofenceResolver creates a new PostGISGeofenceResolver
func NewPostGISGeofenceResolver(db *gorm.DB) *PostGISGeofenceResolver {
	return &PostGISGeofenceResolver{db: db}
}

const pointSQL = "ST_SetSRID(ST_MakePoint(?, ?), 4326)"

// ResolveFarm checks farm_geofences (newest geofence first), then the legacy
// farms.geofence column (most recently updated farm first).
func (r *PostGISGeofenceResolver) ResolveFarm(ctx context.Context, point *orb.Point) (*uuid.UUID, error) {
	if point == nil {
		return nil, nil
	}
	db := r.db.WithContext(ctx)

	var ids []uuid.UUID
	if err := db.Model(&models.FarmGeofenceModel{}).
		Where("ST_Contains(geometry, "+pointSQL+")", point.Lon(), point.Lat()).
		Order("created_at DESC").
		Limit(1).
		Pluck("farm_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("resolve farm geofence: %w", err)
	}
	if len(ids) > 0 {
		return &ids[0], nil
	}

	if err := db.Model(&models.FarmModel{}).
		Where("geofence IS NOT NULL AND ST_Contains(geofence, "+pointSQL+")", point.Lon(), point.Lat()).
		Order("updated_at DESC").
		Limit(1).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("resolve legacy farm geofence: %w", err)
	}
	if len(ids) > 0 {
		return &ids[0], nil
	}
	return nil, nil
}

// PlanarGeofenceResolver loads geofences and tests containment with orb/planar.
// It serves databases without PostGIS and follows the same precedence.
type PlanarGeofenceResolver struct {
	db *gorm.DB
}

// NewPlanarGeofenceResolver creates a new PlanarGeofenceResolver
func NewPlanarGeofenceResolver(db *gorm.DB) *PlanarGeofenceResolver {
	return &PlanarGeofenceResolver{db: db}
}

// ResolveFarm implements scanning.GeofenceResolver
func (r *PlanarGeofenceResolver) ResolveFarm(ctx context.Context, point *orb.Point) (*uuid.UUID, error) {
	if point == nil {
		return nil, nil
	}
	db := r.db.WithContext(ctx)

	var fences []models.FarmGeofenceModel
	if err := db.Order("created_at DESC").Find(&fences).Error; err != nil {
		return nil, fmt.Errorf("load farm geofences: %w", err)
	}
	for i := range fences {
		if contains(fences[i].Geometry.Geometry, *point) {
			id := fences[i].FarmID
			return &id, nil
		}
	}

	var farms []models.FarmModel
	if err := db.Where("geofence IS NOT NULL").Order("updated_at DESC").Find(&farms).Error; err != nil {
		return nil, fmt.Errorf("load farms: %w", err)
	}
	for i := range farms {
		if farms[i].Geofence != nil && contains(farms[i].Geofence.Geometry, *point) {
			id := farms[i].ID
			return &id, nil
		}
	}
	return nil, nil
}

func contains(g orb.Geometry, p orb.Point) bool {
	if g == nil || !g.Bound().Contains(p) {
		return false
	}
	switch shape := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(shape, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(shape, p)
	default:
		return false
	}
}

var (
	_ scanning.GeofenceResolver = (*PostGISGeofenceResolver)(nil)
	_ scanning.GeofenceResolver = (*PlanarGeofenceResolver)(nil)
)
