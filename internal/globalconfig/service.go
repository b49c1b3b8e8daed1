package globalconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

// Cache is the Redis surface used to share the tunables across instances.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GlobalConfigKey() string
}

// Service exposes the cached platform tunables.
type Service interface {
	Get(ctx context.Context) (models.GlobalConfig, error)
	Update(ctx context.Context, input UpdateInput) (models.GlobalConfig, error)
}

// UpdateInput is a partial admin write; nil fields keep their value.
type UpdateInput struct {
	ActorID               uuid.UUID
	CommissionRate        *float64
	CommissionBase        *enums.CommissionBase
	DeliveryBaseFee       *int64
	DeliveryPerKm         *int64
	GeofenceRadiusM       *float64
	GeofenceMaxAccuracyM  *float64
	CourierCommissionRate *float64
}

type service struct {
	repo     Repository
	cache    Cache
	defaults models.GlobalConfig
	ttl      time.Duration
	logg     *logger.Logger
}

// NewService wires the tunables service. cache may be nil, in which case every
// read goes to the database.
func NewService(repo Repository, cache Cache, pricing config.PricingConfig, geofence config.GeofenceConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("global config repository required")
	}
	base, err := enums.ParseCommissionBase(pricing.CommissionBase)
	if err != nil {
		return nil, err
	}
	return &service{
		repo:  repo,
		cache: cache,
		defaults: models.GlobalConfig{
			ID:                    models.GlobalConfigID,
			CommissionRate:        pricing.CommissionRate,
			CommissionBase:        base,
			DeliveryBaseFee:       pricing.DeliveryBaseFee,
			DeliveryPerKm:         pricing.DeliveryPerKm,
			GeofenceRadiusM:       geofence.RadiusMeters,
			GeofenceMaxAccuracyM:  geofence.MaxAccuracyMeters,
			CourierCommissionRate: pricing.CourierCommissionRate,
		},
		ttl:  pricing.CacheTTL,
		logg: logg,
	}, nil
}

// Get returns the live tunables. When neither the cache nor the database can
// answer, the env defaults are served uncached so pricing keeps working.
func (s *service) Get(ctx context.Context) (models.GlobalConfig, error) {
	if cfg, ok := s.fromCache(ctx); ok {
		return cfg, nil
	}

	row, err := s.repo.Get(ctx)
	if err != nil {
		s.warn(ctx, "global config unavailable, using env defaults", err)
		return s.defaults, nil
	}
	if row == nil {
		seeded := s.defaults
		if err := s.repo.Upsert(ctx, &seeded); err != nil {
			s.warn(ctx, "global config seed failed, using env defaults", err)
			return s.defaults, nil
		}
		row = &seeded
	}
	s.store(ctx, *row)
	return *row, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (models.GlobalConfig, error) {
	current, err := s.repo.Get(ctx)
	if err != nil {
		return models.GlobalConfig{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load global config")
	}
	next := s.defaults
	if current != nil {
		next = *current
	}
	if err := applyUpdate(&next, input); err != nil {
		return models.GlobalConfig{}, err
	}
	if input.ActorID != uuid.Nil {
		actor := input.ActorID
		next.UpdatedBy = &actor
	}
	next.UpdatedAt = time.Now().UTC()
	if err := s.repo.Upsert(ctx, &next); err != nil {
		return models.GlobalConfig{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save global config")
	}
	s.store(ctx, next)
	return next, nil
}

func applyUpdate(cfg *models.GlobalConfig, input UpdateInput) error {
	if input.CommissionRate != nil {
		if *input.CommissionRate < 0 || *input.CommissionRate > 1 {
			return validation("commission_rate", "must be between 0 and 1")
		}
		cfg.CommissionRate = *input.CommissionRate
	}
	if input.CommissionBase != nil {
		if !input.CommissionBase.IsValid() {
			return validation("commission_base", "must be subtotal_products or total")
		}
		cfg.CommissionBase = *input.CommissionBase
	}
	if input.DeliveryBaseFee != nil {
		if *input.DeliveryBaseFee < 0 {
			return validation("delivery_base_fee", "must not be negative")
		}
		cfg.DeliveryBaseFee = *input.DeliveryBaseFee
	}
	if input.DeliveryPerKm != nil {
		if *input.DeliveryPerKm < 0 {
			return validation("delivery_per_km", "must not be negative")
		}
		cfg.DeliveryPerKm = *input.DeliveryPerKm
	}
	if input.GeofenceRadiusM != nil {
		if *input.GeofenceRadiusM <= 0 {
			return validation("geofence_radius_m", "must be positive")
		}
		cfg.GeofenceRadiusM = *input.GeofenceRadiusM
	}
	if input.GeofenceMaxAccuracyM != nil {
		if *input.GeofenceMaxAccuracyM <= 0 {
			return validation("geofence_max_accuracy_m", "must be positive")
		}
		cfg.GeofenceMaxAccuracyM = *input.GeofenceMaxAccuracyM
	}
	if input.CourierCommissionRate != nil {
		if *input.CourierCommissionRate < 0 || *input.CourierCommissionRate > 1 {
			return validation("courier_commission_rate", "must be between 0 and 1")
		}
		cfg.CourierCommissionRate = *input.CourierCommissionRate
	}
	return nil
}

func validation(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, field+" "+msg).WithDetails(map[string]string{"field": field})
}

func (s *service) fromCache(ctx context.Context) (models.GlobalConfig, bool) {
	if s.cache == nil {
		return models.GlobalConfig{}, false
	}
	raw, err := s.cache.Get(ctx, s.cache.GlobalConfigKey())
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			s.warn(ctx, "global config cache read failed", err)
		}
		return models.GlobalConfig{}, false
	}
	var cfg models.GlobalConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil || strings.TrimSpace(string(cfg.CommissionBase)) == "" {
		return models.GlobalConfig{}, false
	}
	return cfg, true
}

func (s *service) store(ctx context.Context, cfg models.GlobalConfig) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cache.GlobalConfigKey(), string(payload), s.ttl); err != nil {
		s.warn(ctx, "global config cache write failed", err)
	}
}

func (s *service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}
