package enums

import "fmt"

// PaymentMethod is the method the customer picked at checkout.
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery     PaymentMethod = "cash_on_delivery"
	PaymentMethodTransferOnDelivery PaymentMethod = "transfer_on_delivery"
	PaymentMethodMPCard             PaymentMethod = "mp_card"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCashOnDelivery,
	PaymentMethodTransferOnDelivery,
	PaymentMethodMPCard,
}

// String implements fmt.Stringer.
func (m PaymentMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a known PaymentMethod.
func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// InitialStatus returns the payment status an order starts with for this method.
func (m PaymentMethod) InitialStatus() PaymentStatus {
	if m == PaymentMethodMPCard {
		return PaymentStatusPending
	}
	return PaymentStatusPendingOnDelivery
}

// LegMethod maps the checkout method onto the delivery leg's settlement method.
func (m PaymentMethod) LegMethod() LegPaymentMethod {
	switch m {
	case PaymentMethodCashOnDelivery:
		return LegPaymentCashDelivery
	case PaymentMethodTransferOnDelivery:
		return LegPaymentTransferDelivery
	default:
		return LegPaymentMPCard
	}
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// LegPaymentMethod describes who holds the money when the courier completes a leg.
type LegPaymentMethod string

const (
	LegPaymentCashDelivery     LegPaymentMethod = "cash_delivery"
	LegPaymentTransferDelivery LegPaymentMethod = "transfer_delivery"
	LegPaymentMPCard           LegPaymentMethod = "mp_card"
	LegPaymentMerchantPays     LegPaymentMethod = "merchant_pays"
)

var validLegPaymentMethods = []LegPaymentMethod{
	LegPaymentCashDelivery,
	LegPaymentTransferDelivery,
	LegPaymentMPCard,
	LegPaymentMerchantPays,
}

// IsValid reports whether the value is a known LegPaymentMethod.
func (m LegPaymentMethod) IsValid() bool {
	for _, candidate := range validLegPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// CourierCollects reports whether the courier receives the customer's money in hand.
func (m LegPaymentMethod) CourierCollects() bool {
	return m == LegPaymentCashDelivery || m == LegPaymentTransferDelivery
}

// ParseLegPaymentMethod converts raw input into a LegPaymentMethod.
func ParseLegPaymentMethod(value string) (LegPaymentMethod, error) {
	for _, candidate := range validLegPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid leg payment method %q", value)
}
