package enums

import "fmt"

// LegState tracks the physical lifecycle of a delivery leg.
type LegState string

const (
	LegStateWaitingMerchant LegState = "esperando-comercio"
	LegStatePreparing       LegState = "preparando"
	LegStateReadyForPickup  LegState = "listo-para-retirar"
	LegStateSearching       LegState = "buscando"
	LegStateHeadingToPickup LegState = "en-camino-retiro"
	LegStateInTransit       LegState = "en-camino"
	LegStateDelivered       LegState = "entregado"
	LegStateCancelled       LegState = "cancelado"
)

var validLegStates = []LegState{
	LegStateWaitingMerchant,
	LegStatePreparing,
	LegStateReadyForPickup,
	LegStateSearching,
	LegStateHeadingToPickup,
	LegStateInTransit,
	LegStateDelivered,
	LegStateCancelled,
}

// String implements fmt.Stringer.
func (s LegState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LegState.
func (s LegState) IsValid() bool {
	for _, candidate := range validLegStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the leg has finished, either delivered or cancelled.
func (s LegState) IsTerminal() bool {
	return s == LegStateDelivered || s == LegStateCancelled
}

// IsClaimable reports whether a courier may self-assign a leg in this state.
func (s LegState) IsClaimable() bool {
	return s == LegStateReadyForPickup || s == LegStateSearching
}

// ClaimableLegStates lists the states a courier may claim from.
func ClaimableLegStates() []LegState {
	return []LegState{LegStateReadyForPickup, LegStateSearching}
}

// ParseLegState converts raw input into a LegState.
func ParseLegState(value string) (LegState, error) {
	for _, candidate := range validLegStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid leg state %q", value)
}
