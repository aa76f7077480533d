package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"orderflow/internal/types"
)

// maxWaypoints is the Directions API limit on intermediate stops per request.
const maxWaypoints = 25

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client directionsClient
	region string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey, region string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, region: region}, nil
}

// Legs returns the driving distance of each consecutive stop pair. Trips with
// more stops than one request allows are split into overlapping chunks.
func (s *RouteService) Legs(ctx context.Context, stops []types.Point) ([]int64, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("need at least 2 stops, got %d", len(stops))
	}
	legs := make([]int64, 0, len(stops)-1)
	for _, chunk := range chunkStops(stops, maxWaypoints+2) {
		got, err := s.directions(ctx, chunk)
		if err != nil {
			return nil, err
		}
		legs = append(legs, got...)
	}
	return legs, nil
}

func (s *RouteService) directions(ctx context.Context, stops []types.Point) ([]int64, error) {
	r := &maps.DirectionsRequest{
		Origin:      stops[0].String(),
		Destination: stops[len(stops)-1].String(),
		Mode:        maps.TravelModeDriving,
		Region:      s.region,
	}
	for _, p := range stops[1 : len(stops)-1] {
		r.Waypoints = append(r.Waypoints, p.String())
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("no route found")
	}
	if got, want := len(routes[0].Legs), len(stops)-1; got != want {
		return nil, fmt.Errorf("maps api returned %d legs, want %d", got, want)
	}

	legs := make([]int64, len(routes[0].Legs))
	for i, leg := range routes[0].Legs {
		legs[i] = int64(leg.Distance.Meters)
	}
	return legs, nil
}

// chunkStops splits stops into windows of at most size points where each
// window starts at the previous window's last point.
func chunkStops(stops []types.Point, size int) [][]types.Point {
	if len(stops) < 2 || size < 2 {
		return nil
	}
	var chunks [][]types.Point
	for start := 0; start < len(stops)-1; start += size - 1 {
		end := start + size
		if end > len(stops) {
			end = len(stops)
		}
		chunks = append(chunks, stops[start:end])
	}
	return chunks
}
