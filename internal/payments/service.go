// Package payments connects card orders and merchant-paid shipments to the
// MercadoPago checkout and keeps their payment status in step with gateway
// notifications.
package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/internal/orders"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/mercadopago"
)

// Gateway is the MercadoPago surface used here.
type Gateway interface {
	CreatePreference(ctx context.Context, input mercadopago.PreferenceInput) (*mercadopago.Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
}

// OrderPayments is the order service surface used here.
type OrderPayments interface {
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.CommerceOrder, error)
	AttachCheckout(ctx context.Context, orderID uuid.UUID, url string) error
	ApplyPaymentUpdate(ctx context.Context, update orders.PaymentUpdate) (bool, error)
}

// ShipmentPayments is the shipment service surface used here.
type ShipmentPayments interface {
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.DeliveryLeg, error)
	AttachCheckout(ctx context.Context, legID uuid.UUID, url string) error
	ApplyPaymentUpdate(ctx context.Context, update legs.PaymentUpdate) (bool, error)
}

// Guard deduplicates gateway notifications.
type Guard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Checkout is a payable link for an order.
type Checkout struct {
	OrderID uuid.UUID `json:"order_id"`
	URL     string    `json:"checkout_url"`
}

// ShipmentCheckout is a payable link for a merchant-paid shipment.
type ShipmentCheckout struct {
	ShipmentID uuid.UUID `json:"shipment_id"`
	URL        string    `json:"checkout_url"`
}

// Notification is the webhook body MercadoPago posts.
type Notification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Outcome reports what a notification did.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
)

// Service creates checkouts and applies payment notifications.
type Service interface {
	CreateCheckout(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*Checkout, error)
	CreateShipmentCheckout(ctx context.Context, actor auth.Actor, legID uuid.UUID) (*ShipmentCheckout, error)
	HandleNotification(ctx context.Context, n Notification) (Outcome, error)
}

type service struct {
	gateway   Gateway
	orders    OrderPayments
	shipments ShipmentPayments
	guard     Guard
	logg      *logger.Logger
}

// NewService wires payments. guard may be nil, in which case duplicate
// notifications fall through to the order's own change detection.
func NewService(gateway Gateway, orderSvc OrderPayments, shipments ShipmentPayments, guard Guard, logg *logger.Logger) (Service, error) {
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	if shipments == nil {
		return nil, fmt.Errorf("shipment service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{gateway: gateway, orders: orderSvc, shipments: shipments, guard: guard, logg: logg}, nil
}

func (s *service) CreateCheckout(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*Checkout, error) {
	order, err := s.orders.Get(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Role == enums.ActorRoleCustomer && order.CustomerID == actor.ID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the customer can pay for the order")
	}
	if order.PaymentMethod != enums.PaymentMethodMPCard {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is not paid by card").
			WithDetails(map[string]any{"payment_method": order.PaymentMethod})
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "order is cancelled")
	}
	if order.PaymentStatus == enums.PaymentStatusApproved {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is already paid")
	}
	if order.CheckoutURL != nil && *order.CheckoutURL != "" {
		return &Checkout{OrderID: order.ID, URL: *order.CheckoutURL}, nil
	}

	pref, err := s.preference(s.logg.WithOrderID(ctx, order.ID.String()), mercadopago.PreferenceInput{
		Title:   "Pedido " + strings.ToUpper(order.ID.String()[:8]),
		Amount:  order.Total,
		OrderID: order.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.orders.AttachCheckout(ctx, order.ID, pref.InitPoint); err != nil {
		return nil, err
	}
	return &Checkout{OrderID: order.ID, URL: pref.InitPoint}, nil
}

// CreateShipmentCheckout charges the merchant the shipment's delivery price.
func (s *service) CreateShipmentCheckout(ctx context.Context, actor auth.Actor, legID uuid.UUID) (*ShipmentCheckout, error) {
	leg, err := s.shipments.Get(ctx, actor, legID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Role == enums.ActorRoleMerchant && leg.MerchantID == actor.ID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the shipment's merchant can pay for it")
	}
	if leg.PaymentMethod != enums.LegPaymentMerchantPays {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment is not paid by the merchant").
			WithDetails(map[string]any{"payment_method": leg.PaymentMethod})
	}
	if leg.DeliveryPrice <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment has no price to charge")
	}
	if leg.State == enums.LegStateCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "shipment is cancelled")
	}
	if leg.PaymentStatus != nil && *leg.PaymentStatus == enums.PaymentStatusApproved {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "shipment is already paid")
	}
	if leg.CheckoutURL != nil && *leg.CheckoutURL != "" {
		return &ShipmentCheckout{ShipmentID: leg.ID, URL: *leg.CheckoutURL}, nil
	}

	pref, err := s.preference(s.logg.WithLegID(ctx, leg.ID.String()), mercadopago.PreferenceInput{
		Title:   fmt.Sprintf("Envio Repartos - %s -> %s", leg.OriginText, leg.DestinationText),
		Amount:  leg.DeliveryPrice,
		OrderID: leg.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.shipments.AttachCheckout(ctx, leg.ID, pref.InitPoint); err != nil {
		return nil, err
	}
	return &ShipmentCheckout{ShipmentID: leg.ID, URL: pref.InitPoint}, nil
}

func (s *service) preference(ctx context.Context, input mercadopago.PreferenceInput) (*mercadopago.Preference, error) {
	pref, err := s.gateway.CreatePreference(ctx, input)
	if err != nil {
		s.logg.Error(ctx, "checkout preference failed", err)
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "create checkout")
	}
	return pref, nil
}

func (s *service) HandleNotification(ctx context.Context, n Notification) (Outcome, error) {
	if n.Type != "payment" {
		return OutcomeIgnored, nil
	}
	paymentID := strings.TrimSpace(n.Data.ID)
	if paymentID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	ctx = s.logg.WithField(ctx, "payment_id", paymentID)

	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	refID, err := uuid.Parse(strings.TrimSpace(payment.OrderID))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "order_ref", payment.OrderID), "payment without a known order reference")
		return OutcomeIgnored, nil
	}
	status := MapStatus(payment.Status)

	// A payment is notified once per status change, so the status is part of
	// the dedup key.
	key := payment.ID + ":" + string(status)
	if s.guard != nil {
		seen, err := s.guard.Seen(ctx, key)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "notification dedup unavailable")
		} else if seen {
			return OutcomeDuplicate, nil
		}
	}

	changed, err := s.applyPayment(ctx, refID, payment.ID, status)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		s.logg.Warn(s.logg.WithField(ctx, "order_ref", refID.String()), "payment for an unknown order or shipment")
		return OutcomeIgnored, nil
	}
	if err != nil {
		if s.guard != nil {
			if ferr := s.guard.Forget(ctx, key); ferr != nil {
				s.logg.Error(ctx, "failed to clear notification key", ferr)
			}
		}
		return "", err
	}
	if !changed {
		return OutcomeUnchanged, nil
	}
	return OutcomeApplied, nil
}

// applyPayment resolves the preference reference, which is an order id for card
// checkouts and a shipment id for merchant-paid shipments.
func (s *service) applyPayment(ctx context.Context, refID uuid.UUID, paymentID string, status enums.PaymentStatus) (bool, error) {
	changed, err := s.orders.ApplyPaymentUpdate(ctx, orders.PaymentUpdate{
		OrderID:   refID,
		PaymentID: paymentID,
		Status:    status,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return changed, err
	}
	return s.shipments.ApplyPaymentUpdate(ctx, legs.PaymentUpdate{
		LegID:     refID,
		PaymentID: paymentID,
		Status:    status,
	})
}

// MapStatus folds MercadoPago payment statuses onto the order payment status.
func MapStatus(raw string) enums.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return enums.PaymentStatusApproved
	case "rejected":
		return enums.PaymentStatusRejected
	case "cancelled":
		return enums.PaymentStatusCancelled
	case "refunded", "charged_back":
		return enums.PaymentStatusRefunded
	default:
		return enums.PaymentStatusPending
	}
}
