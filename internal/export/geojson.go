// Package export renders reports for the map view and for offline use.
package export

import (
	"time"

	"seawatch/internal/model"

	"github.com/paulmach/orb/geojson"
)

// FeatureCollection turns reports into Point features. The feature id is the
// report id and properties carry what the map popups show.
func FeatureCollection(reports []model.Report) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range reports {
		r := &reports[i]

		feature := geojson.NewFeature(r.Location.Point())
		feature.ID = r.ID.String()
		feature.Properties["type"] = string(r.Type())
		feature.Properties["title"] = r.Title
		feature.Properties["severity"] = string(r.Severity)
		feature.Properties["isActive"] = r.IsActive
		feature.Properties["createdAt"] = r.CreatedAt.UTC().Format(time.RFC3339)
		if species, ok := r.Species(); ok {
			feature.Properties["species"] = species
		}
		if r.VesselInfo.VesselName != "" {
			feature.Properties["vesselName"] = r.VesselInfo.VesselName
		}
		fc.Append(feature)
	}
	return fc
}
