package legs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/internal/pricing"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/db/dbtest"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/geo"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
)

type staticRates struct {
	cfg models.GlobalConfig
}

func (s staticRates) Get(ctx context.Context) (models.GlobalConfig, error) {
	return s.cfg, nil
}

func defaultConfig() models.GlobalConfig {
	return models.GlobalConfig{
		CommissionRate:        0.05,
		CommissionBase:        enums.CommissionBaseSubtotal,
		DeliveryBaseFee:       1500,
		DeliveryPerKm:         500,
		GeofenceRadiusM:       50,
		GeofenceMaxAccuracyM:  50,
		CourierCommissionRate: 0.10,
	}
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	svc, err := NewService(
		NewRepository(db),
		dbtest.TxRunner{DB: db},
		outbox.NewService(outbox.NewRepository(db), nil),
		staticRates{cfg: defaultConfig()},
		pricing.NewQuoter(nil, nil, nil),
		nil, nil,
	)
	require.NoError(t, err)
	return svc, db
}

func TestCreateStandalonePricesWithVehicle(t *testing.T) {
	svc, db := newTestService(t)
	merchant := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleMerchant}
	origin := geo.Point{Lat: 0, Lng: 0}
	dest := geo.Point{Lat: 0.018, Lng: 0}

	leg, err := svc.CreateStandalone(context.Background(), CreateShipmentInput{
		Actor:           merchant,
		OriginText:      "Belgrano 10",
		DestinationText: "San Martin 123",
		Origin:          &origin,
		Destination:     &dest,
		Vehicle:         enums.VehicleCar,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.LegStateSearching, leg.State)
	assert.Nil(t, leg.CommerceOrderID)
	assert.Equal(t, merchant.ID, leg.MerchantID)
	assert.Equal(t, 2.0, leg.DistanceKm)
	assert.Equal(t, int64(3750), leg.DeliveryPrice)
	assert.Equal(t, int64(375), leg.CommissionAmount)
	assert.Equal(t, int64(3375), leg.CourierPayout)
	assert.Equal(t, enums.LegPaymentMerchantPays, leg.PaymentMethod)
	assert.Len(t, leg.TrackingToken, 32)

	assert.Equal(t, []enums.OutboxEventType{enums.EventLegCreated}, dbtest.EventTypes(t, db))
}

func TestCreateStandaloneRejectsForeignMerchant(t *testing.T) {
	svc, _ := newTestService(t)
	merchant := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleMerchant}

	_, err := svc.CreateStandalone(context.Background(), CreateShipmentInput{
		Actor:           merchant,
		MerchantID:      uuid.New(),
		OriginText:      "a",
		DestinationText: "b",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.CreateStandalone(context.Background(), CreateShipmentInput{
		Actor:           auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer},
		OriginText:      "a",
		DestinationText: "b",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestTransitionStandalone(t *testing.T) {
	svc, db := newTestService(t)
	merchantID := uuid.New()
	courierID := uuid.New()
	leg := dbtest.SeedLeg(t, db, func(l *models.DeliveryLeg) {
		l.MerchantID = merchantID
		l.State = enums.LegStateHeadingToPickup
		l.CourierID = &courierID
	})
	courier := auth.Actor{ID: courierID, Role: enums.ActorRoleCourier}

	updated, err := svc.TransitionStandalone(context.Background(), courier, &leg, enums.LegStateInTransit)
	require.NoError(t, err)
	assert.Equal(t, enums.LegStateInTransit, updated.State)

	var stored models.DeliveryLeg
	require.NoError(t, db.First(&stored, "id = ?", leg.ID).Error)
	assert.Equal(t, enums.LegStateInTransit, stored.State)

	// The stale copy still says en-camino-retiro, so the conditional write loses.
	_, err = svc.TransitionStandalone(context.Background(), courier, &leg, enums.LegStateInTransit)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = svc.TransitionStandalone(context.Background(), courier, &stored, enums.LegStateDelivered)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	other := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}
	_, err = svc.TransitionStandalone(context.Background(), other, &stored, enums.LegStateCancelled)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestTransitionStandaloneRejectsLinkedLegs(t *testing.T) {
	svc, db := newTestService(t)
	orderID := uuid.New()
	leg := dbtest.SeedLeg(t, db, func(l *models.DeliveryLeg) { l.CommerceOrderID = &orderID })

	_, err := svc.TransitionStandalone(context.Background(), auth.Actor{Role: enums.ActorRoleAdmin}, &leg, enums.LegStateCancelled)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
}

func TestGetVisibility(t *testing.T) {
	svc, db := newTestService(t)
	merchantID := uuid.New()
	leg := dbtest.SeedLeg(t, db, func(l *models.DeliveryLeg) {
		l.MerchantID = merchantID
		l.State = enums.LegStateSearching
	})
	ctx := context.Background()

	_, err := svc.Get(ctx, auth.Actor{ID: merchantID, Role: enums.ActorRoleMerchant}, leg.ID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}, leg.ID)
	assert.NoError(t, err, "unclaimed legs are visible to couriers")
	_, err = svc.Get(ctx, auth.Actor{ID: uuid.New(), Role: enums.ActorRoleMerchant}, leg.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	_, err = svc.Get(ctx, auth.Actor{Role: enums.ActorRoleAdmin}, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestShipmentPaymentLifecycle(t *testing.T) {
	svc, db := newTestService(t)
	merchant := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleMerchant}
	leg, err := svc.CreateStandalone(context.Background(), CreateShipmentInput{
		Actor:           merchant,
		OriginText:      "Belgrano 10",
		DestinationText: "San Martin 123",
	})
	require.NoError(t, err)

	require.NoError(t, svc.AttachCheckout(context.Background(), leg.ID, "https://mp.test/init/1"))
	stored, err := svc.Get(context.Background(), merchant, leg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CheckoutURL)
	assert.Equal(t, "https://mp.test/init/1", *stored.CheckoutURL)
	require.NotNil(t, stored.PaymentStatus)
	assert.Equal(t, enums.PaymentStatusPending, *stored.PaymentStatus)

	update := PaymentUpdate{LegID: leg.ID, PaymentID: "777", Status: enums.PaymentStatusApproved}
	changed, err := svc.ApplyPaymentUpdate(context.Background(), update)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.ApplyPaymentUpdate(context.Background(), update)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err = svc.Get(context.Background(), merchant, leg.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusApproved, *stored.PaymentStatus)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, "777", *stored.PaymentID)
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventLegCreated, enums.EventLegPaymentUpdated}, dbtest.EventTypes(t, db))
}

func TestShipmentPaymentUpdateIgnoresOtherMethods(t *testing.T) {
	svc, db := newTestService(t)
	courierCash := dbtest.SeedLeg(t, db, func(l *models.DeliveryLeg) {
		l.PaymentMethod = enums.LegPaymentCashDelivery
	})

	changed, err := svc.ApplyPaymentUpdate(context.Background(), PaymentUpdate{LegID: courierCash.ID, PaymentID: "1", Status: enums.PaymentStatusApproved})
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = svc.ApplyPaymentUpdate(context.Background(), PaymentUpdate{LegID: uuid.New(), PaymentID: "1", Status: enums.PaymentStatusApproved})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.ApplyPaymentUpdate(context.Background(), PaymentUpdate{LegID: courierCash.ID, Status: enums.PaymentStatusApproved})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
