package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/geo"
)

// ItemInput is one requested product line.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// CreateInput describes a customer checkout. Every product must belong to the
// same merchant.
type CreateInput struct {
	Actor           auth.Actor
	CustomerID      uuid.UUID
	MerchantID      uuid.UUID
	Items           []ItemInput
	PaymentMethod   enums.PaymentMethod
	DeliveryAddress string
	DeliveryPoint   *geo.Point
	PickupAddress   string
	PickupPoint     *geo.Point
}

// TransitionInput requests an order status change.
type TransitionInput struct {
	OrderID uuid.UUID
	Actor   auth.Actor
	Target  enums.OrderStatus
	Reason  string
}

// LegTransitionInput requests a shipment state change.
type LegTransitionInput struct {
	LegID  uuid.UUID
	Actor  auth.Actor
	Target enums.LegState
	Reason string
}

// AssignmentInput records a courier bound to an order's leg by dispatch.
type AssignmentInput struct {
	OrderID   uuid.UUID
	CourierID uuid.UUID
	Actor     auth.Actor
}

// PaymentUpdate is a resolved gateway notification.
type PaymentUpdate struct {
	OrderID   uuid.UUID
	PaymentID string
	Status    enums.PaymentStatus
}

// ReconcileResult summarizes one reconciliation sweep.
type ReconcileResult struct {
	Scanned         int
	LegsAdvanced    int
	OrdersAdvanced  int
	OrdersCompleted int
}
