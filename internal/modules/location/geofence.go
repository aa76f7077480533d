// README: Service-area check applied to every stop of a trip at creation time.
package location

import (
	"errors"
	"fmt"

	"orderflow/internal/types"
)

var ErrOutOfArea = errors.New("location outside service area")

// Geofence is a circular service area around a fixed centre.
type Geofence struct {
	center   types.Point
	radiusKm float64
}

func NewGeofence(center types.Point, radiusKm float64) *Geofence {
	return &Geofence{center: center, radiusKm: radiusKm}
}

func (g *Geofence) Center() types.Point { return g.center }

func (g *Geofence) RadiusKm() float64 { return g.radiusKm }

func (g *Geofence) Contains(p types.Point) bool {
	return HaversineKm(g.center, p) <= g.radiusKm
}

// Validate returns ErrOutOfArea when p lies outside the area.
func (g *Geofence) Validate(p types.Point) error {
	if !g.Contains(p) {
		return fmt.Errorf("%w: %s is %.1fkm from centre (limit %.1fkm)",
			ErrOutOfArea, p, HaversineKm(g.center, p), g.radiusKm)
	}
	return nil
}

// ValidateAll checks stops in order and reports the first failure.
func (g *Geofence) ValidateAll(stops []types.Point) error {
	for i, p := range stops {
		if err := g.Validate(p); err != nil {
			return fmt.Errorf("stop %d: %w", i, err)
		}
	}
	return nil
}
