package models

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// SRID is the spatial reference of every stored geometry (WGS84).
const SRID = 4326

// Geometry stores an orb geometry as EWKB. PostGIS receives and returns it hex
// encoded; other dialects keep the same hex text in a blob column.
// A nil Geometry is stored as NULL.
type Geometry struct {
	orb.Geometry
}

// NewGeometry wraps g, returning nil for a nil geometry.
func NewGeometry(g orb.Geometry) *Geometry {
	if g == nil {
		return nil
	}
	return &Geometry{Geometry: g}
}

// Value implements driver.Valuer
func (g Geometry) Value() (driver.Value, error) {
	if g.Geometry == nil {
		return nil, nil
	}
	s, err := ewkb.MarshalToHex(g.Geometry, SRID)
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	return s, nil
}

// Scan implements sql.Scanner
func (g *Geometry) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		g.Geometry = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into Geometry", value)
	}

	// Text protocol and the sqlite blob carry hex; binary protocol carries raw EWKB.
	if decoded, err := hex.DecodeString(string(raw)); err == nil {
		raw = decoded
	}
	geom, _, err := ewkb.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("decode geometry: %w", err)
	}
	g.Geometry = geom
	return nil
}

// GormDataType implements schema.GormDataTypeInterface
func (Geometry) GormDataType() string {
	return "geometry"
}

// GormDBDataType implements migrator.GormDBDataTypeInterface
func (Geometry) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return fmt.Sprintf("geometry(Geometry,%d)", SRID)
	}
	return "blob"
}

// Point returns the geometry as a point, or nil for any other shape.
func (g *Geometry) Point() *orb.Point {
	if g == nil {
		return nil
	}
	if p, ok := g.Geometry.(orb.Point); ok {
		return &p
	}
	return nil
}

// Polygon returns the geometry as a polygon, or nil for any other shape.
func (g *Geometry) Polygon() orb.Polygon {
	if g == nil {
		return nil
	}
	if p, ok := g.Geometry.(orb.Polygon); ok {
		return p
	}
	return nil
}
