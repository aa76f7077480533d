package distance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/types"
)

var trip = []types.Point{
	{Lat: 22.2820, Lng: 114.1588},
	{Lat: 22.2988, Lng: 114.1722},
	{Lat: 22.3193, Lng: 114.1694},
}

func fixed(legs ...int64) Provider {
	return ProviderFunc(func(context.Context, []types.Point) ([]int64, error) {
		return legs, nil
	})
}

func TestBounded_PassesThrough(t *testing.T) {
	legs, err := NewBounded(fixed(1200, 3800), time.Second).Legs(context.Background(), trip)
	require.NoError(t, err)
	assert.Equal(t, []int64{1200, 3800}, legs)
}

func TestBounded_Failures(t *testing.T) {
	cases := []struct {
		name  string
		p     Provider
		stops []types.Point
	}{
		{"too few stops", fixed(), trip[:1]},
		{"wrong leg count", fixed(1200), trip},
		{"negative leg", fixed(1200, -1), trip},
		{"provider error", ProviderFunc(func(context.Context, []types.Point) ([]int64, error) {
			return nil, errors.New("ZERO_RESULTS")
		}), trip},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBounded(tc.p, time.Second).Legs(context.Background(), tc.stops)
			require.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestBounded_TimesOutEvenIfProviderIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := ProviderFunc(func(context.Context, []types.Point) ([]int64, error) {
		<-release
		return []int64{1, 2}, nil
	})

	start := time.Now()
	_, err := NewBounded(slow, 30*time.Millisecond).Legs(context.Background(), trip)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStraightLine(t *testing.T) {
	legs, err := StraightLine{}.Legs(context.Background(), trip)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	for _, l := range legs {
		assert.Greater(t, l, int64(0))
	}
	// Central to Tsim Sha Tsui is roughly 2.3km as the crow flies.
	assert.InDelta(t, 2300, legs[0], 300)

	same, err := StraightLine{}.Legs(context.Background(), []types.Point{trip[0], trip[0]})
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, same)
}

func TestLegKeys(t *testing.T) {
	keys := legKeys(trip)
	require.Len(t, keys, 2)
	assert.Equal(t, "distance:leg:22.282000,114.158800:22.298800,114.172200", keys[0])
	assert.Nil(t, legKeys(trip[:1]))
}
