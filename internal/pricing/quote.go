package pricing

import (
	"context"
	"strings"

	"github.com/angelmondragon/repartos-backend/pkg/geo"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/maps"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
)

const providerMaps = "maps"

// Router is the geocoding and routing surface pricing falls back around.
type Router interface {
	Geocode(ctx context.Context, address string) (maps.LatLng, error)
	RouteDistance(ctx context.Context, from, to maps.LatLng) (float64, error)
}

// Endpoint is one side of a delivery, known by text and optionally coordinates.
type Endpoint struct {
	Text  string
	Point *geo.Point
}

// DeliveryQuote is a priced delivery with the coordinates that were used.
type DeliveryQuote struct {
	Fee         int64
	DistanceKm  float64
	Origin      *geo.Point
	Destination *geo.Point
	// Degraded is set when a provider failure forced a fallback.
	Degraded bool
}

// Quoter prices deliveries using the routing provider when available.
type Quoter struct {
	router  Router
	logg    *logger.Logger
	metrics *metrics.DomainMetrics
}

// NewQuoter builds a Quoter. A nil router prices by straight-line distance.
func NewQuoter(router Router, logg *logger.Logger, m *metrics.DomainMetrics) *Quoter {
	return &Quoter{router: router, logg: logg, metrics: m}
}

// QuoteDelivery resolves both endpoints and prices the route between them.
// Geocoding failure prices at the base fee; routing failure uses haversine.
func (q *Quoter) QuoteDelivery(ctx context.Context, rates Rates, origin, destination Endpoint) DeliveryQuote {
	from, okFrom := q.resolve(ctx, origin)
	to, okTo := q.resolve(ctx, destination)

	quote := DeliveryQuote{}
	if okFrom {
		quote.Origin = &from
	}
	if okTo {
		quote.Destination = &to
	}
	if !okFrom || !okTo {
		quote.Fee, quote.DistanceKm = DeliveryFee(0, rates.DeliveryBaseFee, rates.DeliveryPerKm)
		quote.Degraded = true
		q.metrics.UpstreamFallback(providerMaps, "geocode")
		return quote
	}

	km, degraded := q.distanceKm(ctx, from, to)
	quote.Degraded = degraded
	quote.Fee, quote.DistanceKm = DeliveryFee(km, rates.DeliveryBaseFee, rates.DeliveryPerKm)
	return quote
}

func (q *Quoter) resolve(ctx context.Context, endpoint Endpoint) (geo.Point, bool) {
	if endpoint.Point != nil && endpoint.Point.Valid() {
		return *endpoint.Point, true
	}
	text := strings.TrimSpace(endpoint.Text)
	if q == nil || q.router == nil || text == "" {
		return geo.Point{}, false
	}
	ll, err := q.router.Geocode(ctx, text)
	if err != nil {
		q.warn(ctx, "geocoding failed, pricing at base fee", err)
		return geo.Point{}, false
	}
	p := geo.Point{Lat: ll.Lat, Lng: ll.Lng}
	return p, p.Valid()
}

func (q *Quoter) distanceKm(ctx context.Context, from, to geo.Point) (float64, bool) {
	if q == nil || q.router == nil {
		return geo.HaversineKm(from, to), false
	}
	meters, err := q.router.RouteDistance(ctx, maps.LatLng{Lat: from.Lat, Lng: from.Lng}, maps.LatLng{Lat: to.Lat, Lng: to.Lng})
	if err != nil {
		q.warn(ctx, "routing failed, using straight-line distance", err)
		q.metrics.UpstreamFallback(providerMaps, "route")
		return geo.HaversineKm(from, to), true
	}
	return meters / 1000, false
}

func (q *Quoter) warn(ctx context.Context, msg string, err error) {
	if q.logg == nil {
		return
	}
	q.logg.Warn(q.logg.WithField(ctx, "error", err.Error()), msg)
}
