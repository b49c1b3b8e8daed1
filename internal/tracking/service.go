// Package tracking serves the public shipment record behind a tracking token
// and accepts live courier positions.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/geo"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

// Cache holds rendered tracking records keyed by token.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	TrackingKey(token string) string
}

// Limiter throttles position reports per courier.
type Limiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Position is a point in time on the courier's route.
type Position struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

// View is the public tracking record. It deliberately omits ids, prices and
// the courier identity.
type View struct {
	Token           string         `json:"token"`
	State           enums.LegState `json:"state"`
	OriginText      string         `json:"origin_text"`
	DestinationText string         `json:"destination_text"`
	LastPosition    *Position      `json:"last_position,omitempty"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// PositionInput is a live report from a courier app.
type PositionInput struct {
	Actor      auth.Actor
	LegID      uuid.UUID
	Lat        float64
	Lng        float64
	AccuracyM  float64
	ReportedAt time.Time
}

// Service reads and updates tracking state.
type Service interface {
	ReportPosition(ctx context.Context, input PositionInput) (*View, error)
	Get(ctx context.Context, token string) (*View, error)
}

type service struct {
	legs    legs.Repository
	cache   Cache
	limiter Limiter
	cfg     config.TrackingConfig
	logg    *logger.Logger
}

// NewService wires tracking. cache and limiter may be nil; tracking then reads
// straight from the database and does not throttle.
func NewService(repo legs.Repository, cache Cache, limiter Limiter, cfg config.TrackingConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("legs repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.PositionLimit <= 0 {
		cfg.PositionLimit = 30
	}
	if cfg.PositionWindow <= 0 {
		cfg.PositionWindow = time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Second
	}
	return &service{legs: repo, cache: cache, limiter: limiter, cfg: cfg, logg: logg}, nil
}

func (s *service) ReportPosition(ctx context.Context, input PositionInput) (*View, error) {
	if input.Actor.Role != enums.ActorRoleCourier {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only couriers report positions")
	}
	if input.LegID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "leg_id is required")
	}
	point := geo.Point{Lat: input.Lat, Lng: input.Lng}
	if !point.Valid() || math.IsNaN(input.AccuracyM) || math.IsInf(input.AccuracyM, 0) || input.AccuracyM < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "position is invalid")
	}
	if err := s.throttle(ctx, input.Actor.ID); err != nil {
		return nil, err
	}

	leg, err := s.legs.FindByID(ctx, input.LegID)
	if err != nil {
		if legs.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	if !leg.IsBoundTo(input.Actor.ID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "shipment is not assigned to this courier")
	}
	if leg.State != enums.LegStateHeadingToPickup && leg.State != enums.LegStateInTransit {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "shipment is not on the road").
			WithDetails(map[string]any{"state": leg.State})
	}

	at := input.ReportedAt.UTC()
	now := time.Now().UTC()
	if at.IsZero() || at.After(now) {
		at = now
	}
	ok, err := s.legs.UpdatePosition(ctx, leg.ID, input.Actor.ID, point.Lat, point.Lng, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store position")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "shipment changed while reporting position")
	}
	leg.LastLat, leg.LastLng, leg.LastPositionAt = &point.Lat, &point.Lng, &at
	leg.UpdatedAt = now

	view := render(leg)
	s.store(ctx, view)
	return view, nil
}

func (s *service) Get(ctx context.Context, token string) (*View, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking token is required")
	}
	if view, ok := s.fromCache(ctx, token); ok {
		return view, nil
	}
	leg, err := s.legs.FindByTrackingToken(ctx, token)
	if err != nil {
		if legs.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tracking token not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	view := render(leg)
	s.store(ctx, view)
	return view, nil
}

func (s *service) throttle(ctx context.Context, courierID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	allowed, count, err := s.limiter.FixedWindowAllow(ctx, "position:"+courierID.String(), s.cfg.PositionLimit, s.cfg.PositionWindow)
	if err != nil {
		s.warn(ctx, "position rate limiter unavailable", err)
		return nil
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many position reports").
			WithDetails(map[string]any{"count": count, "limit": s.cfg.PositionLimit})
	}
	return nil
}

func render(leg *models.DeliveryLeg) *View {
	view := &View{
		Token:           leg.TrackingToken,
		State:           leg.State,
		OriginText:      leg.OriginText,
		DestinationText: leg.DestinationText,
		DeliveredAt:     leg.DeliveredAt,
		UpdatedAt:       leg.UpdatedAt,
	}
	if leg.LastLat != nil && leg.LastLng != nil && leg.LastPositionAt != nil {
		view.LastPosition = &Position{Lat: *leg.LastLat, Lng: *leg.LastLng, At: *leg.LastPositionAt}
	}
	return view
}

func (s *service) fromCache(ctx context.Context, token string) (*View, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, s.cache.TrackingKey(token))
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			s.warn(ctx, "tracking cache read failed", err)
		}
		return nil, false
	}
	var view View
	if err := json.Unmarshal([]byte(raw), &view); err != nil || view.Token != token {
		return nil, false
	}
	return &view, true
}

func (s *service) store(ctx context.Context, view *View) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cache.TrackingKey(view.Token), string(payload), s.cfg.CacheTTL); err != nil {
		s.warn(ctx, "tracking cache write failed", err)
	}
}

func (s *service) warn(ctx context.Context, msg string, err error) {
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}
