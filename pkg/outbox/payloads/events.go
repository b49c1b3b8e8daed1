package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

// OrderCreatedEvent announces a checkout and its linked delivery leg.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id" validate:"required"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	MerchantID    uuid.UUID           `json:"merchant_id"`
	DeliveryLegID uuid.UUID           `json:"delivery_leg_id"`
	Total         int64               `json:"total"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
}

// OrderStatusChangedEvent is emitted for every accepted order transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"order_id" validate:"required"`
	MerchantID uuid.UUID         `json:"merchant_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	Reason     *string           `json:"reason,omitempty"`
}

// OrderPaymentUpdatedEvent reflects a gateway notification.
type OrderPaymentUpdatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id" validate:"required"`
	PaymentID     string              `json:"payment_id"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
}

// LegCreatedEvent announces a delivery leg, linked or standalone.
type LegCreatedEvent struct {
	LegID           uuid.UUID      `json:"leg_id" validate:"required"`
	CommerceOrderID *uuid.UUID     `json:"commerce_order_id,omitempty"`
	MerchantID      uuid.UUID      `json:"merchant_id"`
	State           enums.LegState `json:"state"`
	DeliveryPrice   int64          `json:"delivery_price"`
}

// LegStateChangedEvent is emitted when a leg moves outside of claim or delivery.
type LegStateChangedEvent struct {
	LegID           uuid.UUID      `json:"leg_id" validate:"required"`
	CommerceOrderID *uuid.UUID     `json:"commerce_order_id,omitempty"`
	From            enums.LegState `json:"from"`
	To              enums.LegState `json:"to"`
}

// LegAssignedEvent is emitted on courier self-claim and on admin assignment.
type LegAssignedEvent struct {
	LegID           uuid.UUID  `json:"leg_id" validate:"required"`
	CommerceOrderID *uuid.UUID `json:"commerce_order_id,omitempty"`
	CourierID       uuid.UUID  `json:"courier_id"`
	PreviousCourier *uuid.UUID `json:"previous_courier_id,omitempty"`
	Override        bool       `json:"override"`
}

// LegDeliveredEvent carries the accepted delivery proof.
type LegDeliveredEvent struct {
	LegID           uuid.UUID  `json:"leg_id" validate:"required"`
	CommerceOrderID *uuid.UUID `json:"commerce_order_id,omitempty"`
	CourierID       uuid.UUID  `json:"courier_id"`
	DistanceM       float64    `json:"distance_m"`
	AccuracyM       float64    `json:"accuracy_m"`
	ValidatedAt     time.Time  `json:"validated_at"`
}

// LegPaymentUpdatedEvent reflects a gateway notification for a merchant-paid shipment.
type LegPaymentUpdatedEvent struct {
	LegID         uuid.UUID           `json:"leg_id" validate:"required"`
	MerchantID    uuid.UUID           `json:"merchant_id"`
	PaymentID     string              `json:"payment_id"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
}

// WalletPayoutAppliedEvent is emitted once per delivered leg.
type WalletPayoutAppliedEvent struct {
	CourierID     uuid.UUID          `json:"courier_id" validate:"required"`
	DeliveryLegID uuid.UUID          `json:"delivery_leg_id"`
	OrderID       *uuid.UUID         `json:"order_id,omitempty"`
	Type          enums.WalletTxType `json:"type"`
	Amount        int64              `json:"amount"`
	Balance       int64              `json:"balance"`
}

// WalletWithdrawalEvent asks finance to settle a pending withdrawal.
type WalletWithdrawalEvent struct {
	CourierID     uuid.UUID `json:"courier_id" validate:"required"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Pending       int64     `json:"pending"`
}

// WalletAdjustedEvent records a manual admin correction.
type WalletAdjustedEvent struct {
	CourierID     uuid.UUID `json:"courier_id" validate:"required"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Reason        string    `json:"reason"`
	Balance       int64     `json:"balance"`
}
