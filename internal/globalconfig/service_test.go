package globalconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db/dbtest"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
)

type memoryCache struct {
	values map[string]string
	sets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}}
}

func (m *memoryCache) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.sets++
	m.values[key] = value.(string)
	return nil
}

func (m *memoryCache) GlobalConfigKey() string { return "rp:config:global" }

func newTestService(t *testing.T, cache Cache) (Service, Repository) {
	t.Helper()
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo, cache, config.PricingConfig{
		CommissionRate:        0.05,
		CommissionBase:        "subtotal_products",
		DeliveryBaseFee:       1500,
		DeliveryPerKm:         500,
		CourierCommissionRate: 0.10,
		CacheTTL:              time.Minute,
	}, config.GeofenceConfig{RadiusMeters: 50, MaxAccuracyMeters: 50}, nil)
	require.NoError(t, err)
	return svc, repo
}

func TestGetSeedsDefaultsAndCaches(t *testing.T) {
	cache := newMemoryCache()
	svc, repo := newTestService(t, cache)
	ctx := context.Background()

	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.05, cfg.CommissionRate)
	assert.Equal(t, enums.CommissionBaseSubtotal, cfg.CommissionBase)
	assert.Equal(t, 50.0, cfg.GeofenceRadiusM)

	row, err := repo.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(1500), row.DeliveryBaseFee)
	assert.Equal(t, 1, cache.sets)

	_, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets, "second read should be served from cache")
}

func TestUpdateRefreshesCache(t *testing.T) {
	cache := newMemoryCache()
	svc, _ := newTestService(t, cache)
	ctx := context.Background()
	_, err := svc.Get(ctx)
	require.NoError(t, err)

	radius := 80.0
	base := enums.CommissionBaseTotal
	admin := uuid.New()
	updated, err := svc.Update(ctx, UpdateInput{ActorID: admin, GeofenceRadiusM: &radius, CommissionBase: &base})
	require.NoError(t, err)
	assert.Equal(t, 80.0, updated.GeofenceRadiusM)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, admin, *updated.UpdatedBy)

	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80.0, cfg.GeofenceRadiusM)
	assert.Equal(t, enums.CommissionBaseTotal, cfg.CommissionBase)
}

func TestUpdateRejectsOutOfRangeRate(t *testing.T) {
	svc, _ := newTestService(t, nil)
	rate := 1.5

	_, err := svc.Update(context.Background(), UpdateInput{CommissionRate: &rate})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGetWithoutCacheReadsDatabase(t *testing.T) {
	svc, _ := newTestService(t, nil)

	cfg, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.10, cfg.CourierCommissionRate)
}

type downRepository struct {
	getErr    error
	upsertErr error
}

func (r downRepository) Get(context.Context) (*models.GlobalConfig, error) { return nil, r.getErr }

func (r downRepository) Upsert(context.Context, *models.GlobalConfig) error { return r.upsertErr }

func TestGetFallsBackToEnvDefaultsWhenDatabaseFails(t *testing.T) {
	outage := errors.New("connection refused")
	for name, repo := range map[string]downRepository{
		"read fails": {getErr: outage},
		"seed fails": {upsertErr: outage},
	} {
		t.Run(name, func(t *testing.T) {
			cache := newMemoryCache()
			svc, err := NewService(repo, cache, config.PricingConfig{
				CommissionRate:        0.05,
				CommissionBase:        "total",
				DeliveryBaseFee:       1500,
				DeliveryPerKm:         500,
				CourierCommissionRate: 0.10,
				CacheTTL:              time.Minute,
			}, config.GeofenceConfig{RadiusMeters: 75, MaxAccuracyMeters: 40}, nil)
			require.NoError(t, err)

			cfg, err := svc.Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, enums.CommissionBaseTotal, cfg.CommissionBase)
			assert.Equal(t, int64(1500), cfg.DeliveryBaseFee)
			assert.Equal(t, 75.0, cfg.GeofenceRadiusM)
			assert.Equal(t, 40.0, cfg.GeofenceMaxAccuracyM)
			assert.Zero(t, cache.sets, "fallback values must not be cached")

			rate := 0.2
			_, err = svc.Update(context.Background(), UpdateInput{CommissionRate: &rate})
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
		})
	}
}
