package tracking

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db/dbtest"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryCache) TrackingKey(token string) string { return "rp:tracking:" + token }

type countingLimiter struct {
	counts map[string]int64
	err    error
}

func (c *countingLimiter) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.err != nil {
		return false, 0, c.err
	}
	c.counts[scope]++
	return c.counts[scope] <= limit, c.counts[scope], nil
}

func newTestService(t *testing.T, cache Cache, limiter Limiter) (Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(legs.NewRepository(db), cache, limiter, config.TrackingConfig{PositionLimit: 2, PositionWindow: time.Minute, CacheTTL: 10 * time.Second}, logg)
	require.NoError(t, err)
	return svc, db
}

func courierLeg(t *testing.T, db *gorm.DB, courierID uuid.UUID, state enums.LegState) models.DeliveryLeg {
	t.Helper()
	return dbtest.SeedLeg(t, db, func(l *models.DeliveryLeg) {
		l.State = state
		l.CourierID = &courierID
	})
}

func TestReportPositionUpdatesLegAndCache(t *testing.T) {
	cache := newMemoryCache()
	svc, db := newTestService(t, cache, &countingLimiter{counts: map[string]int64{}})
	courier := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}
	leg := courierLeg(t, db, courier.ID, enums.LegStateInTransit)
	at := time.Now().UTC().Add(-time.Second)

	view, err := svc.ReportPosition(context.Background(), PositionInput{Actor: courier, LegID: leg.ID, Lat: -53.785, Lng: -67.705, AccuracyM: 12, ReportedAt: at})
	require.NoError(t, err)
	require.NotNil(t, view.LastPosition)
	assert.Equal(t, -53.785, view.LastPosition.Lat)

	var stored models.DeliveryLeg
	require.NoError(t, db.First(&stored, "id = ?", leg.ID).Error)
	require.NotNil(t, stored.LastLat)
	assert.Equal(t, -53.785, *stored.LastLat)
	assert.Contains(t, cache.values, "rp:tracking:"+leg.TrackingToken)
	assert.Equal(t, 10*time.Second, cache.ttls["rp:tracking:"+leg.TrackingToken])

	public, err := svc.Get(context.Background(), leg.TrackingToken)
	require.NoError(t, err)
	assert.Equal(t, enums.LegStateInTransit, public.State)
	require.NotNil(t, public.LastPosition)
	assert.Equal(t, -67.705, public.LastPosition.Lng)
}

func TestReportPositionIsRateLimited(t *testing.T) {
	svc, db := newTestService(t, nil, &countingLimiter{counts: map[string]int64{}})
	courier := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}
	leg := courierLeg(t, db, courier.ID, enums.LegStateHeadingToPickup)
	input := PositionInput{Actor: courier, LegID: leg.ID, Lat: -53.78, Lng: -67.70, AccuracyM: 5}

	for i := 0; i < 2; i++ {
		_, err := svc.ReportPosition(context.Background(), input)
		require.NoError(t, err)
	}
	_, err := svc.ReportPosition(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
}

func TestReportPositionToleratesLimiterOutage(t *testing.T) {
	svc, db := newTestService(t, nil, &countingLimiter{err: errors.New("redis down")})
	courier := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}
	leg := courierLeg(t, db, courier.ID, enums.LegStateInTransit)

	_, err := svc.ReportPosition(context.Background(), PositionInput{Actor: courier, LegID: leg.ID, Lat: -53.78, Lng: -67.70})
	assert.NoError(t, err)
}

func TestReportPositionGuards(t *testing.T) {
	svc, db := newTestService(t, nil, nil)
	courier := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}
	leg := courierLeg(t, db, courier.ID, enums.LegStateInTransit)
	waiting := courierLeg(t, db, courier.ID, enums.LegStateReadyForPickup)

	cases := []struct {
		name  string
		input PositionInput
		code  pkgerrors.Code
	}{
		{"merchant", PositionInput{Actor: auth.Actor{ID: uuid.New(), Role: enums.ActorRoleMerchant}, LegID: leg.ID, Lat: 1, Lng: 1}, pkgerrors.CodeForbidden},
		{"missing leg id", PositionInput{Actor: courier, Lat: 1, Lng: 1}, pkgerrors.CodeValidation},
		{"latitude out of range", PositionInput{Actor: courier, LegID: leg.ID, Lat: 91, Lng: 1}, pkgerrors.CodeValidation},
		{"negative accuracy", PositionInput{Actor: courier, LegID: leg.ID, Lat: 1, Lng: 1, AccuracyM: -1}, pkgerrors.CodeValidation},
		{"unknown leg", PositionInput{Actor: courier, LegID: uuid.New(), Lat: 1, Lng: 1}, pkgerrors.CodeNotFound},
		{"other courier", PositionInput{Actor: auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}, LegID: leg.ID, Lat: 1, Lng: 1}, pkgerrors.CodeForbidden},
		{"not on the road", PositionInput{Actor: courier, LegID: waiting.ID, Lat: 1, Lng: 1}, pkgerrors.CodeInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ReportPosition(context.Background(), tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestGetServesCachedView(t *testing.T) {
	cache := newMemoryCache()
	svc, db := newTestService(t, cache, nil)
	leg := dbtest.SeedLeg(t, db, nil)

	first, err := svc.Get(context.Background(), leg.TrackingToken)
	require.NoError(t, err)
	assert.Equal(t, enums.LegStateWaitingMerchant, first.State)
	assert.Nil(t, first.LastPosition)

	require.NoError(t, db.Model(&models.DeliveryLeg{}).Where("id = ?", leg.ID).Update("state", enums.LegStatePreparing).Error)
	cached, err := svc.Get(context.Background(), leg.TrackingToken)
	require.NoError(t, err)
	assert.Equal(t, enums.LegStateWaitingMerchant, cached.State, "served from cache until the ttl lapses")
}

func TestGetUnknownToken(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.Get(context.Background(), "nope")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Get(context.Background(), "  ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
