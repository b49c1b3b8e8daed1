package orders

import (
	"fmt"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
)

// sequence is the forward order of statuses; cancelled sits outside it.
var sequence = []enums.OrderStatus{
	enums.OrderStatusCreated,
	enums.OrderStatusConfirmed,
	enums.OrderStatusPreparing,
	enums.OrderStatusReadyForPickup,
	enums.OrderStatusAssigned,
	enums.OrderStatusPickedUp,
	enums.OrderStatusDelivered,
}

var roleTargets = map[enums.ActorRole]map[enums.OrderStatus]bool{
	enums.ActorRoleMerchant: {
		enums.OrderStatusConfirmed:      true,
		enums.OrderStatusPreparing:      true,
		enums.OrderStatusReadyForPickup: true,
		enums.OrderStatusCancelled:      true,
	},
	enums.ActorRoleCourier: {
		enums.OrderStatusAssigned:  true,
		enums.OrderStatusPickedUp:  true,
		enums.OrderStatusDelivered: true,
		enums.OrderStatusCancelled: true,
	},
}

var legMirror = map[enums.OrderStatus]enums.LegState{
	enums.OrderStatusCreated:        enums.LegStateWaitingMerchant,
	enums.OrderStatusConfirmed:      enums.LegStateWaitingMerchant,
	enums.OrderStatusPreparing:      enums.LegStatePreparing,
	enums.OrderStatusReadyForPickup: enums.LegStateReadyForPickup,
	enums.OrderStatusAssigned:       enums.LegStateHeadingToPickup,
	enums.OrderStatusPickedUp:       enums.LegStateInTransit,
	enums.OrderStatusDelivered:      enums.LegStateDelivered,
	enums.OrderStatusCancelled:      enums.LegStateCancelled,
}

// Leg targets a linked shipment may request; everything else is driven by the order.
var legToOrder = map[enums.LegState]enums.OrderStatus{
	enums.LegStatePreparing:      enums.OrderStatusPreparing,
	enums.LegStateReadyForPickup: enums.OrderStatusReadyForPickup,
	enums.LegStateInTransit:      enums.OrderStatusPickedUp,
	enums.LegStateDelivered:      enums.OrderStatusDelivered,
	enums.LegStateCancelled:      enums.OrderStatusCancelled,
}

// Rank returns the position of status in the forward sequence, or -1 for cancelled.
func Rank(status enums.OrderStatus) int {
	for i, s := range sequence {
		if s == status {
			return i
		}
	}
	return -1
}

// LegStateFor returns the leg state mirroring an order status.
func LegStateFor(status enums.OrderStatus) (enums.LegState, bool) {
	state, ok := legMirror[status]
	return state, ok
}

// OrderStatusForLeg maps a leg-level request on a linked shipment to its order status.
func OrderStatusForLeg(state enums.LegState) (enums.OrderStatus, bool) {
	status, ok := legToOrder[state]
	return status, ok
}

// AuthorizeTarget checks the role matrix only. Customers hold no targets.
func AuthorizeTarget(role enums.ActorRole, to enums.OrderStatus) error {
	if role == enums.ActorRoleAdmin || role == enums.ActorRoleSystem {
		return nil
	}
	if roleTargets[role][to] {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("role %s cannot move an order to %s", role, to)).
		WithDetails(map[string]any{"role": role, "to": to})
}

// CheckReachable allows one forward step or a cancel from any non-terminal
// status. Admins may also jump forward to a later non-terminal status.
func CheckReachable(role enums.ActorRole, from, to enums.OrderStatus) error {
	if !to.IsValid() || from.IsTerminal() || from == to {
		return invalidTransition(from, to)
	}
	if to == enums.OrderStatusCancelled {
		return nil
	}
	fromRank, toRank := Rank(from), Rank(to)
	if toRank == fromRank+1 {
		return nil
	}
	if (role == enums.ActorRoleAdmin || role == enums.ActorRoleSystem) && toRank > fromRank && !to.IsTerminal() {
		return nil
	}
	return invalidTransition(from, to)
}

// CanTransition returns nil, a Forbidden error or an InvalidTransition error.
// Role is checked before reachability.
func CanTransition(role enums.ActorRole, from, to enums.OrderStatus) error {
	if err := AuthorizeTarget(role, to); err != nil {
		return err
	}
	return CheckReachable(role, from, to)
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("order cannot move from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}
