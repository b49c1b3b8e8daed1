package controllers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/repartos-backend/api/middleware"
	"github.com/angelmondragon/repartos-backend/internal/delivery"
	"github.com/angelmondragon/repartos-backend/internal/orders"
	"github.com/angelmondragon/repartos-backend/internal/payments"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/types"
)

var testLogger = logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

type stubDelivery struct {
	input  delivery.DeliverInput
	result *delivery.Result
	err    error
}

func (s *stubDelivery) Deliver(_ context.Context, in delivery.DeliverInput) (*delivery.Result, error) {
	s.input = in
	return s.result, s.err
}

type stubOrders struct {
	orders.Service
	created       orders.CreateInput
	transitioned  orders.TransitionInput
	transitionErr error
}

func (s *stubOrders) Transition(_ context.Context, in orders.TransitionInput) (*models.CommerceOrder, error) {
	s.transitioned = in
	if s.transitionErr != nil {
		return nil, s.transitionErr
	}
	return &models.CommerceOrder{ID: in.OrderID, Status: in.Target}, nil
}

func (s *stubOrders) Create(_ context.Context, in orders.CreateInput) (*models.CommerceOrder, error) {
	s.created = in
	return &models.CommerceOrder{ID: uuid.New(), CustomerID: in.CustomerID, MerchantID: in.MerchantID, Status: enums.OrderStatusCreated, Total: 4500}, nil
}

type stubPayments struct {
	payments.Service
	got         payments.Notification
	shipmentID  uuid.UUID
	checkoutErr error
}

func (s *stubPayments) CreateShipmentCheckout(_ context.Context, _ auth.Actor, legID uuid.UUID) (*payments.ShipmentCheckout, error) {
	s.shipmentID = legID
	if s.checkoutErr != nil {
		return nil, s.checkoutErr
	}
	return &payments.ShipmentCheckout{ShipmentID: legID, URL: "https://mp.test/checkout/pref-1"}, nil
}

func (s *stubPayments) HandleNotification(_ context.Context, n payments.Notification) (payments.Outcome, error) {
	s.got = n
	return payments.OutcomeApplied, nil
}

// serve routes a single handler through chi so URL params resolve.
func serve(method, pattern, path string, h http.HandlerFunc, actor *auth.Actor, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != nil {
		req = req.WithContext(middleware.WithActor(req.Context(), *actor))
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	return env.Error
}

func TestCourierDeliverAccepted(t *testing.T) {
	courier := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}
	legID := uuid.New()
	svc := &stubDelivery{result: &delivery.Result{
		Leg:       &models.DeliveryLeg{ID: legID, State: enums.LegStateDelivered},
		DistanceM: 12.5,
	}}

	resp := serve(http.MethodPost, "/couriers/{courierId}/deliver", "/couriers/"+courier.ID.String()+"/deliver",
		CourierDeliver(svc, testLogger), &courier,
		`{"leg_id":"`+legID.String()+`","lat":-53.7877,"lng":-67.7095,"accuracy_m":8}`)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"distance_m":12.5`)
	assert.Equal(t, legID, svc.input.LegID)
	assert.Equal(t, courier, svc.input.Actor)
	assert.InDelta(t, 8.0, svc.input.AccuracyM, 0.0001)
	assert.False(t, svc.input.ReportedAt.IsZero())
}

func TestCourierDeliverRejectionCarriesDistance(t *testing.T) {
	courier := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}
	svc := &stubDelivery{err: pkgerrors.New(pkgerrors.CodeProximityRejected, "outside delivery radius").
		WithDetails(map[string]any{"distance_m": 51.2, "radius_m": 50.0})}

	resp := serve(http.MethodPost, "/couriers/{courierId}/deliver", "/couriers/"+courier.ID.String()+"/deliver",
		CourierDeliver(svc, testLogger), &courier,
		`{"order_id":"`+uuid.NewString()+`","lat":-53.7,"lng":-67.7,"accuracy_m":5}`)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	apiErr := decodeError(t, resp)
	assert.Equal(t, "PROXIMITY_REJECTED", apiErr.Code)
	details, ok := apiErr.Details.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 51.2, details["distance_m"], 0.001)
}

func TestCourierDeliverGuards(t *testing.T) {
	courier := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCourier}
	path := "/couriers/" + courier.ID.String() + "/deliver"

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"other courier", "/couriers/" + uuid.NewString() + "/deliver", `{"leg_id":"` + uuid.NewString() + `","lat":1,"lng":1,"accuracy_m":1}`, http.StatusForbidden},
		{"no target", path, `{"lat":1,"lng":1,"accuracy_m":1}`, http.StatusBadRequest},
		{"missing accuracy", path, `{"leg_id":"` + uuid.NewString() + `","lat":1,"lng":1}`, http.StatusBadRequest},
		{"unknown field", path, `{"leg_id":"` + uuid.NewString() + `","lat":1,"lng":1,"accuracy_m":1,"x":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubDelivery{}
			resp := serve(http.MethodPost, "/couriers/{courierId}/deliver", tt.path, CourierDeliver(svc, testLogger), &courier, tt.body)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, uuid.Nil, svc.input.Actor.ID, "service must not be called")
		})
	}
}

func TestOrderCreateMapsRequest(t *testing.T) {
	customer := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer}
	merchantID, productID := uuid.New(), uuid.New()
	svc := &stubOrders{}

	body := `{"merchant_id":"` + merchantID.String() + `","items":[{"product_id":"` + productID.String() + `","quantity":2}],` +
		`"payment_method":"cash_on_delivery","delivery_address":"  Calle 1  ","delivery_point":{"lat":-53.78,"lng":-67.70},"pickup_address":"Local 2"}`
	resp := serve(http.MethodPost, "/orders", "/orders", OrderCreate(svc, testLogger), &customer, body)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, customer.ID, svc.created.CustomerID)
	assert.Equal(t, merchantID, svc.created.MerchantID)
	assert.Equal(t, "Calle 1", svc.created.DeliveryAddress)
	require.NotNil(t, svc.created.DeliveryPoint)
	assert.InDelta(t, -53.78, svc.created.DeliveryPoint.Lat, 0.0001)
	assert.Nil(t, svc.created.PickupPoint)
	require.Len(t, svc.created.Items, 1)
	assert.Equal(t, 2, svc.created.Items[0].Quantity)
}

func TestOrderCreateValidation(t *testing.T) {
	customer := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer}
	body := `{"merchant_id":"` + uuid.NewString() + `","items":[],"payment_method":"bitcoin","delivery_address":"a","pickup_address":"b"}`
	resp := serve(http.MethodPost, "/orders", "/orders", OrderCreate(&stubOrders{}, testLogger), &customer, body)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	details, ok := decodeError(t, resp).Details.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "items")
	assert.Contains(t, details, "payment_method")
}

func mpSign(secret, manifest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestMercadoPagoWebhookVerifiesSignature(t *testing.T) {
	svc := &stubPayments{}
	handler := MercadoPagoWebhook(svc, "whsec", testLogger)

	body := `{"type":"payment","action":"payment.updated","data":{"id":123456}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(body))
	req.Header.Set("x-request-id", "req-1")
	req.Header.Set("x-signature", "ts=1704908010,v1="+mpSign("whsec", "id:123456;request-id:req-1;ts:1704908010;"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "123456", svc.got.Data.ID)
	assert.Equal(t, "payment", svc.got.Type)

	forged := httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(body))
	forged.Header.Set("x-request-id", "req-1")
	forged.Header.Set("x-signature", "ts=1704908010,v1="+mpSign("other", "id:123456;request-id:req-1;ts:1704908010;"))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, forged)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestMercadoPagoWebhookReadsQueryFallback(t *testing.T) {
	svc := &stubPayments{}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago?type=payment&data.id=777", nil)
	resp := httptest.NewRecorder()
	MercadoPagoWebhook(svc, "", testLogger).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "777", svc.got.Data.ID)
	assert.Contains(t, resp.Body.String(), `"outcome":"applied"`)
}

func TestOrderTransitionStatusCodes(t *testing.T) {
	merchant := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleMerchant}
	orderID := uuid.New()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "accepted", status: http.StatusOK},
		{name: "not owner", err: pkgerrors.New(pkgerrors.CodeForbidden, "order not owned by actor"), status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "unreachable", err: pkgerrors.New(pkgerrors.CodeInvalidTransition, "order cannot move from created to preparing"), status: http.StatusConflict, code: "INVALID_TRANSITION"},
		{name: "out of stock", err: pkgerrors.New(pkgerrors.CodeStockInsufficient, "insufficient stock").
			WithDetails(map[string]any{"product_id": uuid.NewString(), "product_name": "Pizza"}), status: http.StatusConflict, code: "STOCK_INSUFFICIENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubOrders{transitionErr: tt.err}
			resp := serve(http.MethodPost, "/orders/{orderId}/transition", "/orders/"+orderID.String()+"/transition",
				OrderTransition(svc, testLogger), &merchant, `{"status":"confirmed","reason":"  ok  "}`)

			require.Equal(t, tt.status, resp.Code)
			assert.Equal(t, orderID, svc.transitioned.OrderID)
			assert.Equal(t, enums.OrderStatusConfirmed, svc.transitioned.Target)
			assert.Equal(t, merchant, svc.transitioned.Actor)
			if tt.err == nil {
				assert.Contains(t, resp.Body.String(), `"confirmed"`)
				return
			}
			assert.Equal(t, tt.code, string(decodeError(t, resp).Code))
		})
	}
}

func TestShipmentPaymentReturnsCheckout(t *testing.T) {
	merchant := auth.Actor{ID: uuid.New(), Role: enums.ActorRoleMerchant}
	legID := uuid.New()
	svc := &stubPayments{}

	resp := serve(http.MethodPost, "/shipments/{legId}/payment", "/shipments/"+legID.String()+"/payment",
		ShipmentPayment(svc, testLogger), &merchant, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, legID, svc.shipmentID)
	assert.Contains(t, resp.Body.String(), `"checkout_url":"https://mp.test/checkout/pref-1"`)

	svc.checkoutErr = pkgerrors.New(pkgerrors.CodeValidation, "shipment is not paid by the merchant")
	resp = serve(http.MethodPost, "/shipments/{legId}/payment", "/shipments/"+legID.String()+"/payment",
		ShipmentPayment(svc, testLogger), &merchant, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = serve(http.MethodPost, "/shipments/{legId}/payment", "/shipments/"+legID.String()+"/payment",
		ShipmentPayment(nil, testLogger), &merchant, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
