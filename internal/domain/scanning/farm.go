package scanning

import (
	"github.com/cti/scanhub/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Farm owns territory. Geofence is the legacy single polygon; FarmGeofence rows
// supersede it during resolution.
type Farm struct {
	shared.BaseEntity
	Name     string
	Geofence orb.Polygon
	Centroid *orb.Point
}

// FarmGeofence is one of possibly many parcels belonging to a farm (SRID 4326).
type FarmGeofence struct {
	shared.BaseEntity
	FarmID   uuid.UUID
	Label    *string
	Geometry orb.Geometry
}

// NewPoint builds a WGS84 point. orb points are longitude first.
func NewPoint(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}
