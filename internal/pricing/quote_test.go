package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/repartos-backend/pkg/geo"
	"github.com/angelmondragon/repartos-backend/pkg/maps"
)

type stubRouter struct {
	geocode    map[string]maps.LatLng
	geocodeErr error
	meters     float64
	routeErr   error
	routeCalls int
}

func (s *stubRouter) Geocode(ctx context.Context, address string) (maps.LatLng, error) {
	if s.geocodeErr != nil {
		return maps.LatLng{}, s.geocodeErr
	}
	ll, ok := s.geocode[address]
	if !ok {
		return maps.LatLng{}, errors.New("not found")
	}
	return ll, nil
}

func (s *stubRouter) RouteDistance(ctx context.Context, from, to maps.LatLng) (float64, error) {
	s.routeCalls++
	return s.meters, s.routeErr
}

var defaultRates = Rates{DeliveryBaseFee: 1500, DeliveryPerKm: 500}

func TestQuoteDeliveryUsesRouteDistance(t *testing.T) {
	router := &stubRouter{
		geocode: map[string]maps.LatLng{
			"A": {Lat: -53.78, Lng: -67.70},
			"B": {Lat: -53.79, Lng: -67.71},
		},
		meters: 2000,
	}
	q := NewQuoter(router, nil, nil)

	quote := q.QuoteDelivery(context.Background(), defaultRates, Endpoint{Text: "A"}, Endpoint{Text: "B"})

	assert.Equal(t, int64(2500), quote.Fee)
	assert.Equal(t, 2.0, quote.DistanceKm)
	assert.False(t, quote.Degraded)
	require.NotNil(t, quote.Destination)
	assert.Equal(t, -53.79, quote.Destination.Lat)
}

func TestQuoteDeliveryFallsBackToHaversineOnRouteFailure(t *testing.T) {
	origin := geo.Point{Lat: 0, Lng: 0}
	dest := geo.Point{Lat: 0.018, Lng: 0}
	router := &stubRouter{routeErr: errors.New("timeout")}
	q := NewQuoter(router, nil, nil)

	quote := q.QuoteDelivery(context.Background(), defaultRates, Endpoint{Point: &origin}, Endpoint{Point: &dest})

	assert.True(t, quote.Degraded)
	assert.Equal(t, 1, router.routeCalls)
	assert.Equal(t, 2.0, quote.DistanceKm)
	assert.Equal(t, int64(2500), quote.Fee)
}

func TestQuoteDeliveryFallsBackToBaseFeeOnGeocodeFailure(t *testing.T) {
	router := &stubRouter{geocodeErr: errors.New("down")}
	q := NewQuoter(router, nil, nil)

	quote := q.QuoteDelivery(context.Background(), defaultRates, Endpoint{Text: "A"}, Endpoint{Text: "B"})

	assert.True(t, quote.Degraded)
	assert.Equal(t, int64(1500), quote.Fee)
	assert.Nil(t, quote.Destination)
	assert.Zero(t, router.routeCalls)
}

func TestQuoteDeliveryWithoutRouterUsesStraightLine(t *testing.T) {
	origin := geo.Point{Lat: 0, Lng: 0}
	dest := geo.Point{Lat: 0.009, Lng: 0}
	q := NewQuoter(nil, nil, nil)

	quote := q.QuoteDelivery(context.Background(), defaultRates, Endpoint{Point: &origin}, Endpoint{Point: &dest})

	assert.False(t, quote.Degraded)
	assert.Equal(t, 1.0, quote.DistanceKm)
	assert.Equal(t, int64(2000), quote.Fee)
}
