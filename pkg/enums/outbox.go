package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateCommerceOrder OutboxAggregateType = "commerce_order"
	AggregateDeliveryLeg   OutboxAggregateType = "delivery_leg"
	AggregateWallet        OutboxAggregateType = "wallet"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateCommerceOrder,
	AggregateDeliveryLeg,
	AggregateWallet,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated        OutboxEventType = "order_created"
	EventOrderStatusChanged  OutboxEventType = "order_status_changed"
	EventOrderPaymentUpdated OutboxEventType = "order_payment_updated"
	EventLegCreated          OutboxEventType = "leg_created"
	EventLegStateChanged     OutboxEventType = "leg_state_changed"
	EventLegAssigned         OutboxEventType = "leg_assigned"
	EventLegDelivered        OutboxEventType = "leg_delivered"
	EventLegPaymentUpdated   OutboxEventType = "leg_payment_updated"
	EventWalletPayoutApplied OutboxEventType = "wallet_payout_applied"
	EventWalletWithdrawal    OutboxEventType = "wallet_withdrawal_requested"
	EventWalletAdjusted      OutboxEventType = "wallet_adjusted"
)

var validEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderPaymentUpdated,
	EventLegCreated,
	EventLegStateChanged,
	EventLegAssigned,
	EventLegDelivered,
	EventLegPaymentUpdated,
	EventWalletPayoutApplied,
	EventWalletWithdrawal,
	EventWalletAdjusted,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
