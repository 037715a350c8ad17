// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
//   - base.go: BaseModel shared by every table
//   - geometry.go: EWKB column type for PostGIS geometries (SRID 4326)
//   - scanning.go: devices, groups, animals, assets, farms, geofences, scans and their audit rows
package models
