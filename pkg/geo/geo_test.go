package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineIdenticalPointsIsZero(t *testing.T) {
	p := Point{Lat: -53.7877, Lng: -67.7095}
	assert.Equal(t, 0.0, HaversineKm(p, p))
	assert.Equal(t, 0.0, HaversineMeters(p, p))
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude along a meridian.
	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 1, Lng: 0}
	want := EarthRadiusKm * math.Pi / 180
	assert.InDelta(t, want, HaversineKm(a, b), 1e-9)
	assert.InDelta(t, HaversineKm(a, b), HaversineKm(b, a), 1e-12)
}

func TestRoundKm(t *testing.T) {
	assert.Equal(t, 2.0, RoundKm(2.04))
	assert.Equal(t, 2.1, RoundKm(2.06))
	assert.Equal(t, 0.0, RoundKm(0.01))
}

func TestPointFrom(t *testing.T) {
	lat, lng := -34.6, -58.4
	p, ok := PointFrom(&lat, &lng)
	require.True(t, ok)
	assert.Equal(t, Point{Lat: lat, Lng: lng}, p)

	_, ok = PointFrom(nil, &lng)
	assert.False(t, ok)

	nan := math.NaN()
	_, ok = PointFrom(&nan, &lng)
	assert.False(t, ok)

	out := 120.0
	_, ok = PointFrom(&out, &lng)
	assert.False(t, ok)
}
