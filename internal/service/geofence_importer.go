package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/fleetsense/telemetry/internal/domain"
	"github.com/fleetsense/telemetry/internal/repository"
	"github.com/fleetsense/telemetry/pkg/logger"
)

// ImportedGeofence is one zone parsed out of a GeoJSON feature
type ImportedGeofence struct {
	Geofence domain.Geofence
	WKT      string
}

// GeofenceImporter bootstraps the geofence table from a GeoJSON
// FeatureCollection. Only Polygon features are accepted; everything else in
// the file is skipped without a log line.
type GeofenceImporter struct {
	geofences repository.GeofenceRepository
	log       *logger.Logger
}

// NewGeofenceImporter creates a geofence importer
func NewGeofenceImporter(geofences repository.GeofenceRepository, log *logger.Logger) *GeofenceImporter {
	return &GeofenceImporter{geofences: geofences, log: log}
}

// ImportIfEmpty loads the file when the store has no active geofences yet.
// Returns the number of zones imported.
func (i *GeofenceImporter) ImportIfEmpty(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	if _, err := os.Stat(path); err != nil {
		return 0, nil
	}

	count, err := i.geofences.CountActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count geofences: %w", err)
	}
	if count > 0 {
		i.log.Infow("Geofences already present, skipping import", "count", count)
		return 0, nil
	}

	return i.ImportFile(ctx, path)
}

// ImportFile parses and inserts every polygon feature in the file
func (i *GeofenceImporter) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read geofence file: %w", err)
	}

	zones, err := ParseGeofenceCollection(data)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, zone := range zones {
		if err := i.geofences.Insert(ctx, &zone.Geofence, zone.WKT); err != nil {
			i.log.Warnw("Failed to insert geofence", "id", zone.Geofence.ID, "name", zone.Geofence.Name, "error", err)
			continue
		}
		imported++
	}

	i.log.Infow("Geofence import finished", "file", path, "imported", imported, "parsed", len(zones))
	return imported, nil
}

// ParseGeofenceCollection decodes a GeoJSON FeatureCollection into
// importable zones
func ParseGeofenceCollection(data []byte) ([]ImportedGeofence, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	var zones []ImportedGeofence
	for _, feature := range fc.Features {
		polygon, ok := feature.Geometry.(*geom.Polygon)
		if !ok {
			continue
		}

		encoded, err := wkt.Marshal(polygon)
		if err != nil {
			continue
		}

		zones = append(zones, ImportedGeofence{
			Geofence: domain.Geofence{
				ID:          propString(feature.Properties, "id", uuid.NewString()),
				Name:        propString(feature.Properties, "name", "Unnamed Zone"),
				Description: propString(feature.Properties, "description", ""),
				Type:        propString(feature.Properties, "type", "custom"),
				Color:       propString(feature.Properties, "color", "#3388ff"),
				IsActive:    true,
			},
			WKT: encoded,
		})
	}
	return zones, nil
}

func propString(props map[string]interface{}, key, fallback string) string {
	if v, ok := props[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
