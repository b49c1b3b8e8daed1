package legs

import (
	"fmt"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
)

// sequence is the forward order of leg states; cancelado sits outside it.
var sequence = []enums.LegState{
	enums.LegStateWaitingMerchant,
	enums.LegStatePreparing,
	enums.LegStateReadyForPickup,
	enums.LegStateSearching,
	enums.LegStateHeadingToPickup,
	enums.LegStateInTransit,
	enums.LegStateDelivered,
}

var roleTargets = map[enums.ActorRole]map[enums.LegState]bool{
	enums.ActorRoleMerchant: {
		enums.LegStatePreparing:      true,
		enums.LegStateReadyForPickup: true,
		enums.LegStateSearching:      true,
		enums.LegStateCancelled:      true,
	},
	enums.ActorRoleCourier: {
		enums.LegStateInTransit: true,
		enums.LegStateCancelled: true,
	},
}

// Rank returns the position of state in the forward sequence, or -1 for cancelado.
func Rank(state enums.LegState) int {
	for i, s := range sequence {
		if s == state {
			return i
		}
	}
	return -1
}

// IsAhead reports whether a is strictly later than b in the forward sequence.
func IsAhead(a, b enums.LegState) bool {
	return Rank(a) > Rank(b)
}

// AuthorizeTarget checks the role matrix only.
func AuthorizeTarget(role enums.ActorRole, to enums.LegState) error {
	if role == enums.ActorRoleAdmin || role == enums.ActorRoleSystem {
		return nil
	}
	if roleTargets[role][to] {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("role %s cannot move a shipment to %s", role, to))
}

// CheckReachable applies the leg reachability rules: one forward step, cancel
// from any non-terminal state, and forward jumps for admins.
func CheckReachable(role enums.ActorRole, from, to enums.LegState) error {
	if !to.IsValid() {
		return invalidTransition(from, to)
	}
	if from.IsTerminal() || from == to {
		return invalidTransition(from, to)
	}
	if to == enums.LegStateCancelled {
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

// CanTransition checks role before reachability.
func CanTransition(role enums.ActorRole, from, to enums.LegState) error {
	if err := AuthorizeTarget(role, to); err != nil {
		return err
	}
	return CheckReachable(role, from, to)
}

func invalidTransition(from, to enums.LegState) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("shipment cannot move from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}
