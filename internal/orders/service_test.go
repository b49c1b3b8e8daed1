package orders

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/internal/auditlog"
	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/internal/pricing"
	"github.com/angelmondragon/repartos-backend/internal/stock"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/db/dbtest"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/geo"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
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

type harness struct {
	svc      Service
	db       *gorm.DB
	merchant auth.Actor
	customer auth.Actor
	courier  auth.Actor
	admin    auth.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	emitter := outbox.NewService(outbox.NewRepository(db), logg)
	tx := dbtest.TxRunner{DB: db}
	rates := staticRates{cfg: defaultConfig()}
	quoter := pricing.NewQuoter(nil, logg, nil)

	legRepo := legs.NewRepository(db)
	shipments, err := legs.NewService(legRepo, tx, emitter, rates, quoter, logg, nil)
	require.NoError(t, err)
	stockSvc, err := stock.NewService(stock.NewRepository(db), 5, logg, nil)
	require.NoError(t, err)
	audit, err := auditlog.NewService(auditlog.NewRepository(db), logg)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(db),
		Legs:      legRepo,
		Shipments: shipments,
		Stock:     stockSvc,
		Audit:     audit,
		Outbox:    emitter,
		Tx:        tx,
		Rates:     rates,
		Quoter:    quoter,
		Logger:    logg,
	})
	require.NoError(t, err)

	return &harness{
		svc:      svc,
		db:       db,
		merchant: auth.Actor{ID: uuid.New(), Role: enums.ActorRoleMerchant},
		customer: auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer},
		courier:  auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier},
		admin:    auth.Actor{ID: uuid.New(), Role: enums.ActorRoleAdmin},
	}
}

// seedLinked inserts an order in status with a leg in state, holding qty of product.
func (h *harness) seedLinked(t *testing.T, status enums.OrderStatus, state enums.LegState, product models.Product, qty int) (models.CommerceOrder, models.DeliveryLeg) {
	t.Helper()
	legID := uuid.New()
	order := dbtest.SeedOrder(t, h.db, func(o *models.CommerceOrder) {
		o.CustomerID = h.customer.ID
		o.MerchantID = h.merchant.ID
		o.Status = status
		o.DeliveryLegID = &legID
		o.Items = []models.CommerceOrderItem{{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  qty,
		}}
	})
	leg := dbtest.SeedLeg(t, h.db, func(l *models.DeliveryLeg) {
		l.ID = legID
		l.CommerceOrderID = &order.ID
		l.MerchantID = h.merchant.ID
		l.State = state
		l.TrackingToken = order.TrackingToken
	})
	return order, leg
}

func (h *harness) reloadOrder(t *testing.T, id uuid.UUID) models.CommerceOrder {
	t.Helper()
	var order models.CommerceOrder
	require.NoError(t, h.db.First(&order, "id = ?", id).Error)
	return order
}

func (h *harness) reloadLeg(t *testing.T, id uuid.UUID) models.DeliveryLeg {
	t.Helper()
	var leg models.DeliveryLeg
	require.NoError(t, h.db.First(&leg, "id = ?", id).Error)
	return leg
}

func (h *harness) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, h.db.First(&product, "id = ?", id).Error)
	require.NotNil(t, product.Stock)
	return *product.Stock
}

func TestCreateOrderPricesAndLinksLeg(t *testing.T) {
	h := newHarness(t)
	pizza := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, dbtest.IntPtr(10))
	soda := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Soda", 5000, nil)
	pickup := geo.Point{Lat: 0, Lng: 0}
	dropoff := geo.Point{Lat: 0.018, Lng: 0}

	order, err := h.svc.Create(context.Background(), CreateInput{
		Actor: h.customer,
		Items: []ItemInput{
			{ProductID: pizza.ID, Quantity: 1},
			{ProductID: soda.ID, Quantity: 1},
			{ProductID: soda.ID, Quantity: 1},
		},
		PaymentMethod:   enums.PaymentMethodCashOnDelivery,
		DeliveryAddress: "San Martin 123",
		DeliveryPoint:   &dropoff,
		PickupAddress:   "Belgrano 10",
		PickupPoint:     &pickup,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusCreated, order.Status)
	assert.Equal(t, h.merchant.ID, order.MerchantID)
	assert.Equal(t, int64(20000), order.SubtotalProducts)
	assert.Equal(t, int64(2500), order.DeliveryFee)
	assert.Equal(t, int64(22500), order.Total)
	assert.Equal(t, int64(1000), order.CommissionAmount)
	assert.Equal(t, enums.PaymentStatusPendingOnDelivery, order.PaymentStatus)
	require.Len(t, order.Items, 2)
	require.NotNil(t, order.DeliveryLegID)

	leg := h.reloadLeg(t, *order.DeliveryLegID)
	require.NotNil(t, leg.CommerceOrderID)
	assert.Equal(t, order.ID, *leg.CommerceOrderID)
	assert.Equal(t, enums.LegStateWaitingMerchant, leg.State)
	assert.Equal(t, enums.LegPaymentCashDelivery, leg.PaymentMethod)
	assert.Equal(t, int64(2500), leg.DeliveryPrice)
	assert.Equal(t, int64(250), leg.CommissionAmount)
	assert.Equal(t, int64(2250), leg.CourierPayout)
	assert.Equal(t, order.TrackingToken, leg.TrackingToken)

	stored := h.reloadOrder(t, order.ID)
	require.NotNil(t, stored.DeliveryLegID)
	assert.Equal(t, leg.ID, *stored.DeliveryLegID)

	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated, enums.EventLegCreated}, dbtest.EventTypes(t, h.db))

	history, err := h.svc.History(context.Background(), h.customer, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, enums.OrderStatusCreated, history[0].Status)
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	ours := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	theirs := dbtest.SeedProduct(t, h.db, uuid.New(), "Empanada", 800, nil)

	base := CreateInput{
		Actor:           h.customer,
		Items:           []ItemInput{{ProductID: ours.ID, Quantity: 1}},
		PaymentMethod:   enums.PaymentMethodMPCard,
		DeliveryAddress: "San Martin 123",
		PickupAddress:   "Belgrano 10",
	}

	mixed := base
	mixed.Items = []ItemInput{{ProductID: ours.ID, Quantity: 1}, {ProductID: theirs.ID, Quantity: 1}}
	_, err := h.svc.Create(context.Background(), mixed)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	foreign := base
	foreign.CustomerID = uuid.New()
	_, err = h.svc.Create(context.Background(), foreign)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	asMerchant := base
	asMerchant.Actor = h.merchant
	_, err = h.svc.Create(context.Background(), asMerchant)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	missing := base
	missing.Items = []ItemInput{{ProductID: uuid.New(), Quantity: 1}}
	_, err = h.svc.Create(context.Background(), missing)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	order, err := h.svc.Create(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	// No coordinates and no geocoder: the quote degrades to the base fee.
	assert.Equal(t, int64(1500), order.DeliveryFee)
}

func TestConfirmReservesStock(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, dbtest.IntPtr(5))
	order, leg := h.seedLinked(t, enums.OrderStatusCreated, enums.LegStateWaitingMerchant, product, 2)

	updated, err := h.svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Actor:   h.merchant,
		Target:  enums.OrderStatusConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, updated.Status)
	assert.Equal(t, 3, h.stockOf(t, product.ID))

	stored := h.reloadOrder(t, order.ID)
	assert.True(t, stored.StockReserved)
	assert.Equal(t, enums.LegStateWaitingMerchant, h.reloadLeg(t, leg.ID).State)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderStatusChanged}, dbtest.EventTypes(t, h.db))
}

func TestConfirmFailsOnInsufficientStock(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, dbtest.IntPtr(1))
	order, _ := h.seedLinked(t, enums.OrderStatusCreated, enums.LegStateWaitingMerchant, product, 2)

	_, err := h.svc.Transition(context.Background(), TransitionInput{
		OrderID: order.ID,
		Actor:   h.merchant,
		Target:  enums.OrderStatusConfirmed,
	})
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStockInsufficient))
	assert.Equal(t, product.ID, pkgerrors.As(err).Details().(map[string]any)["product_id"])

	assert.Equal(t, enums.OrderStatusCreated, h.reloadOrder(t, order.ID).Status)
	assert.Equal(t, 1, h.stockOf(t, product.ID))
	assert.Empty(t, dbtest.EventTypes(t, h.db))
}

func TestTransitionOwnershipAndRoles(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	order, _ := h.seedLinked(t, enums.OrderStatusConfirmed, enums.LegStateWaitingMerchant, product, 1)

	cases := []struct {
		name  string
		actor auth.Actor
		to    enums.OrderStatus
		code  pkgerrors.Code
	}{
		{"foreign merchant", auth.Actor{ID: uuid.New(), Role: enums.ActorRoleMerchant}, enums.OrderStatusPreparing, pkgerrors.CodeForbidden},
		{"customer", h.customer, enums.OrderStatusCancelled, pkgerrors.CodeForbidden},
		{"unbound courier", h.courier, enums.OrderStatusCancelled, pkgerrors.CodeForbidden},
		{"merchant skip", h.merchant, enums.OrderStatusReadyForPickup, pkgerrors.CodeInvalidTransition},
		{"merchant self loop", h.merchant, enums.OrderStatusConfirmed, pkgerrors.CodeInvalidTransition},
		{"delivered without position", h.admin, enums.OrderStatusDelivered, pkgerrors.CodeProximityRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Transition(context.Background(), TransitionInput{OrderID: order.ID, Actor: tc.actor, Target: tc.to})
			require.Error(t, err)
			assert.Equal(t, tc.code, pkgerrors.As(err).Code())
		})
	}
	assert.Equal(t, enums.OrderStatusConfirmed, h.reloadOrder(t, order.ID).Status)
}

func TestTransitionMirrorsLeg(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	order, leg := h.seedLinked(t, enums.OrderStatusConfirmed, enums.LegStateWaitingMerchant, product, 1)

	for _, step := range []struct {
		to   enums.OrderStatus
		want enums.LegState
	}{
		{enums.OrderStatusPreparing, enums.LegStatePreparing},
		{enums.OrderStatusReadyForPickup, enums.LegStateReadyForPickup},
	} {
		_, err := h.svc.Transition(context.Background(), TransitionInput{OrderID: order.ID, Actor: h.merchant, Target: step.to})
		require.NoError(t, err)
		assert.Equal(t, step.want, h.reloadLeg(t, leg.ID).State)
	}

	history, err := h.svc.History(context.Background(), h.merchant, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, enums.OrderStatusReadyForPickup, history[1].Status)
}

func TestTransitionConflictOnStaleRead(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	order, leg := h.seedLinked(t, enums.OrderStatusConfirmed, enums.LegStateWaitingMerchant, product, 1)

	_, err := h.svc.Transition(context.Background(), TransitionInput{OrderID: order.ID, Actor: h.merchant, Target: enums.OrderStatusPreparing})
	require.NoError(t, err)

	stale := order
	impl := h.svc.(*service)
	_, err = impl.apply(context.Background(), &stale, &leg, enums.OrderStatusCancelled, h.admin, "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, enums.OrderStatusPreparing, h.reloadOrder(t, order.ID).Status)
}

func TestCancelReleasesStockAndCancelsLeg(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, dbtest.IntPtr(5))
	order, leg := h.seedLinked(t, enums.OrderStatusCreated, enums.LegStateWaitingMerchant, product, 2)

	_, err := h.svc.Transition(context.Background(), TransitionInput{OrderID: order.ID, Actor: h.merchant, Target: enums.OrderStatusConfirmed})
	require.NoError(t, err)
	require.Equal(t, 3, h.stockOf(t, product.ID))

	_, err = h.svc.Transition(context.Background(), TransitionInput{OrderID: order.ID, Actor: h.merchant, Target: enums.OrderStatusCancelled, Reason: "out of dough"})
	require.NoError(t, err)

	assert.Equal(t, 5, h.stockOf(t, product.ID))
	assert.Equal(t, enums.LegStateCancelled, h.reloadLeg(t, leg.ID).State)
	stored := h.reloadOrder(t, order.ID)
	assert.True(t, stored.StockReleased)

	_, err = h.svc.Transition(context.Background(), TransitionInput{OrderID: order.ID, Actor: h.admin, Target: enums.OrderStatusConfirmed})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
}

func TestTransitionLegForwardsLinkedShipments(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	order, leg := h.seedLinked(t, enums.OrderStatusConfirmed, enums.LegStateWaitingMerchant, product, 1)

	updated, err := h.svc.TransitionLeg(context.Background(), LegTransitionInput{LegID: leg.ID, Actor: h.merchant, Target: enums.LegStatePreparing})
	require.NoError(t, err)
	assert.Equal(t, enums.LegStatePreparing, updated.State)
	assert.Equal(t, enums.OrderStatusPreparing, h.reloadOrder(t, order.ID).Status)

	_, err = h.svc.TransitionLeg(context.Background(), LegTransitionInput{LegID: leg.ID, Actor: h.merchant, Target: enums.LegStateSearching})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
}

func TestTransitionLegRoutesStandaloneShipments(t *testing.T) {
	h := newHarness(t)
	leg := dbtest.SeedLeg(t, h.db, func(l *models.DeliveryLeg) {
		l.MerchantID = h.merchant.ID
		l.State = enums.LegStateSearching
		l.PaymentMethod = enums.LegPaymentMerchantPays
	})

	updated, err := h.svc.TransitionLeg(context.Background(), LegTransitionInput{LegID: leg.ID, Actor: h.merchant, Target: enums.LegStateCancelled})
	require.NoError(t, err)
	assert.Equal(t, enums.LegStateCancelled, updated.State)

	_, err = h.svc.TransitionLeg(context.Background(), LegTransitionInput{LegID: uuid.New(), Actor: h.merchant, Target: enums.LegStateCancelled})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestApplyLegAssignmentMovesOrderToAssigned(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	order, leg := h.seedLinked(t, enums.OrderStatusReadyForPickup, enums.LegStateHeadingToPickup, product, 1)

	err := h.svc.ApplyLegAssignment(context.Background(), AssignmentInput{OrderID: order.ID, CourierID: h.courier.ID, Actor: h.courier})
	require.NoError(t, err)

	stored := h.reloadOrder(t, order.ID)
	assert.Equal(t, enums.OrderStatusAssigned, stored.Status)
	require.NotNil(t, stored.CourierID)
	assert.Equal(t, h.courier.ID, *stored.CourierID)
	assert.Equal(t, enums.LegStateHeadingToPickup, h.reloadLeg(t, leg.ID).State)

	// The courier now owns the order through the recorded courier id.
	got, err := h.svc.Get(context.Background(), h.courier, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	// Reassignment after the order moved on only rebinds the courier.
	other := uuid.New()
	require.NoError(t, h.svc.ApplyLegAssignment(context.Background(), AssignmentInput{OrderID: order.ID, CourierID: other, Actor: h.admin}))
	stored = h.reloadOrder(t, order.ID)
	assert.Equal(t, enums.OrderStatusAssigned, stored.Status)
	assert.Equal(t, other, *stored.CourierID)
}

func TestCompleteDeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	order, _ := h.seedLinked(t, enums.OrderStatusPickedUp, enums.LegStateDelivered, product, 1)

	require.NoError(t, h.svc.CompleteDelivery(context.Background(), order.ID, h.courier))
	require.NoError(t, h.svc.CompleteDelivery(context.Background(), order.ID, h.courier))

	assert.Equal(t, enums.OrderStatusDelivered, h.reloadOrder(t, order.ID).Status)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderStatusChanged}, dbtest.EventTypes(t, h.db))
}

func TestGetVisibility(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	order, _ := h.seedLinked(t, enums.OrderStatusConfirmed, enums.LegStateWaitingMerchant, product, 1)

	for _, actor := range []auth.Actor{h.customer, h.merchant, h.admin} {
		_, err := h.svc.Get(context.Background(), actor, order.ID)
		assert.NoError(t, err, actor.Role)
	}
	for _, actor := range []auth.Actor{
		{ID: uuid.New(), Role: enums.ActorRoleCustomer},
		{ID: uuid.New(), Role: enums.ActorRoleMerchant},
		h.courier,
	} {
		_, err := h.svc.Get(context.Background(), actor, order.ID)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), actor.Role)
	}

	_, err := h.svc.Get(context.Background(), h.admin, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestApplyPaymentUpdateDeduplicates(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	card, _ := h.seedLinked(t, enums.OrderStatusCreated, enums.LegStateWaitingMerchant, product, 1)
	require.NoError(t, h.db.Model(&models.CommerceOrder{}).Where("id = ?", card.ID).
		Updates(map[string]any{"payment_method": enums.PaymentMethodMPCard, "payment_status": enums.PaymentStatusPending}).Error)

	update := PaymentUpdate{OrderID: card.ID, PaymentID: "123456", Status: enums.PaymentStatusApproved}
	changed, err := h.svc.ApplyPaymentUpdate(context.Background(), update)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = h.svc.ApplyPaymentUpdate(context.Background(), update)
	require.NoError(t, err)
	assert.False(t, changed)

	stored := h.reloadOrder(t, card.ID)
	assert.Equal(t, enums.PaymentStatusApproved, stored.PaymentStatus)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, "123456", *stored.PaymentID)
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderPaymentUpdated}, dbtest.EventTypes(t, h.db))

	cash, _ := h.seedLinked(t, enums.OrderStatusCreated, enums.LegStateWaitingMerchant, product, 1)
	changed, err = h.svc.ApplyPaymentUpdate(context.Background(), PaymentUpdate{OrderID: cash.ID, PaymentID: "9", Status: enums.PaymentStatusApproved})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReconcileRepairsMirrors(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	lagging, laggingLeg := h.seedLinked(t, enums.OrderStatusPreparing, enums.LegStateWaitingMerchant, product, 1)
	delivered, _ := h.seedLinked(t, enums.OrderStatusPickedUp, enums.LegStateDelivered, product, 1)
	ahead, aheadLeg := h.seedLinked(t, enums.OrderStatusReadyForPickup, enums.LegStateHeadingToPickup, product, 1)

	result, err := h.svc.Reconcile(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.LegsAdvanced)
	assert.Equal(t, 1, result.OrdersCompleted)

	assert.Equal(t, enums.LegStatePreparing, h.reloadLeg(t, laggingLeg.ID).State)
	assert.Equal(t, enums.OrderStatusPreparing, h.reloadOrder(t, lagging.ID).Status)
	assert.Equal(t, enums.OrderStatusDelivered, h.reloadOrder(t, delivered.ID).Status)
	assert.Equal(t, enums.LegStateHeadingToPickup, h.reloadLeg(t, aheadLeg.ID).State)
	assert.Equal(t, enums.OrderStatusReadyForPickup, h.reloadOrder(t, ahead.ID).Status)

	again, err := h.svc.Reconcile(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Scanned)
	assert.Zero(t, again.LegsAdvanced)
	assert.Zero(t, again.OrdersCompleted)
}

func TestReconcileCatchesOrdersUpWithCourierShipments(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.db, h.merchant.ID, "Pizza", 10000, nil)
	bind := func(leg models.DeliveryLeg) {
		require.NoError(t, h.db.Model(&models.DeliveryLeg{}).Where("id = ?", leg.ID).Update("courier_id", h.courier.ID).Error)
	}
	claimed, claimedLeg := h.seedLinked(t, enums.OrderStatusReadyForPickup, enums.LegStateHeadingToPickup, product, 1)
	bind(claimedLeg)
	pickedUp, pickedUpLeg := h.seedLinked(t, enums.OrderStatusAssigned, enums.LegStateInTransit, product, 1)
	bind(pickedUpLeg)
	skipped, skippedLeg := h.seedLinked(t, enums.OrderStatusReadyForPickup, enums.LegStateInTransit, product, 1)
	bind(skippedLeg)

	result, err := h.svc.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 3, result.OrdersAdvanced)
	assert.Zero(t, result.LegsAdvanced)

	stored := h.reloadOrder(t, claimed.ID)
	assert.Equal(t, enums.OrderStatusAssigned, stored.Status)
	require.NotNil(t, stored.CourierID)
	assert.Equal(t, h.courier.ID, *stored.CourierID)
	assert.Equal(t, enums.OrderStatusPickedUp, h.reloadOrder(t, pickedUp.ID).Status)
	assert.Equal(t, enums.OrderStatusPickedUp, h.reloadOrder(t, skipped.ID).Status)

	// The courier's next step is accepted once the order has caught up.
	order, err := h.svc.Transition(context.Background(), TransitionInput{
		OrderID: claimed.ID,
		Actor:   h.courier,
		Target:  enums.OrderStatusPickedUp,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPickedUp, order.Status)
	assert.Equal(t, enums.LegStateInTransit, h.reloadLeg(t, claimedLeg.ID).State)

	again, err := h.svc.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, again.OrdersAdvanced)
	assert.Zero(t, again.LegsAdvanced)
}
