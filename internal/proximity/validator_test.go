package proximity

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/geo"
)

var destination = geo.Point{Lat: -53.7877, Lng: -67.7095}

// northOf returns the point d meters due north of p.
func northOf(p geo.Point, d float64) geo.Point {
	return geo.Point{Lat: p.Lat + d/(geo.EarthRadiusKm*1000)*180/math.Pi, Lng: p.Lng}
}

func reportAt(p geo.Point, accuracy float64) Report {
	return Report{Lat: p.Lat, Lng: p.Lng, AccuracyM: accuracy, ReportedAt: time.Now()}
}

func TestValidate(t *testing.T) {
	fence := GeofenceFrom(models.GlobalConfig{})
	dest := destination

	cases := []struct {
		name     string
		report   Report
		dest     *geo.Point
		accepted bool
		reason   Reason
	}{
		{"inside radius", reportAt(northOf(destination, 45), 20), &dest, true, ReasonNone},
		{"at destination", reportAt(destination, 5), &dest, true, ReasonNone},
		{"outside radius", reportAt(northOf(destination, 51), 20), &dest, false, ReasonOutsideRadius},
		{"poor accuracy", reportAt(northOf(destination, 10), 80), &dest, false, ReasonAccuracyTooLow},
		{"no destination", reportAt(destination, 5), nil, false, ReasonDestinationUnresolved},
		{"nan latitude", Report{Lat: math.NaN(), Lng: 0, AccuracyM: 5}, &dest, false, ReasonInvalidPosition},
		{"infinite accuracy", Report{Lat: dest.Lat, Lng: dest.Lng, AccuracyM: math.Inf(1)}, &dest, false, ReasonInvalidPosition},
		{"negative accuracy", Report{Lat: dest.Lat, Lng: dest.Lng, AccuracyM: -1}, &dest, false, ReasonInvalidPosition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Validate(tc.report, tc.dest, fence)
			assert.Equal(t, tc.accepted, res.Accepted)
			assert.Equal(t, tc.reason, res.Reason)
		})
	}
}

func TestValidateReportsDistance(t *testing.T) {
	fence := Geofence{RadiusM: 50, MaxAccuracyM: 50}
	dest := destination
	report := reportAt(northOf(destination, 45), 20)

	res := Validate(report, &dest, fence)
	require.True(t, res.Accepted)
	assert.InDelta(t, 45, res.DistanceM, 0.01)
	assert.NoError(t, res.Err(report, fence))

	far := reportAt(northOf(destination, 51), 20)
	res = Validate(far, &dest, fence)
	err := res.Err(far, fence)
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProximityRejected))
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.InDelta(t, 51, details["distance_m"], 0.1)
	assert.Equal(t, 50.0, details["radius_m"])
	assert.Equal(t, ReasonOutsideRadius, details["reason"])
}

func TestGeofenceFromConfig(t *testing.T) {
	fence := GeofenceFrom(models.GlobalConfig{GeofenceRadiusM: 80, GeofenceMaxAccuracyM: 30})
	assert.Equal(t, Geofence{RadiusM: 80, MaxAccuracyM: 30}, fence)

	fence = GeofenceFrom(models.GlobalConfig{})
	assert.Equal(t, Geofence{RadiusM: DefaultRadiusM, MaxAccuracyM: DefaultMaxAccuracyM}, fence)
}
