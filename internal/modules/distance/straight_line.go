// README: Haversine distance provider used when no routing API key is configured.
package distance

import (
	"context"
	"math"

	"orderflow/internal/modules/location"
	"orderflow/internal/types"
)

// StraightLine reports great-circle leg lengths rounded to whole metres.
type StraightLine struct{}

func (StraightLine) Legs(_ context.Context, stops []types.Point) ([]int64, error) {
	if len(stops) < 2 {
		return nil, ErrUnavailable
	}
	legs := make([]int64, len(stops)-1)
	for i := 1; i < len(stops); i++ {
		legs[i-1] = int64(math.Round(location.HaversineKm(stops[i-1], stops[i]) * 1000))
	}
	return legs, nil
}
