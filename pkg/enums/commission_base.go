package enums

import "fmt"

// CommissionBase selects which amount the platform commission is computed on.
type CommissionBase string

const (
	CommissionBaseSubtotal CommissionBase = "subtotal_products"
	CommissionBaseTotal    CommissionBase = "total"
)

// IsValid reports whether the value is a known CommissionBase.
func (b CommissionBase) IsValid() bool {
	return b == CommissionBaseSubtotal || b == CommissionBaseTotal
}

// ParseCommissionBase converts raw input into a CommissionBase.
func ParseCommissionBase(value string) (CommissionBase, error) {
	b := CommissionBase(value)
	if !b.IsValid() {
		return "", fmt.Errorf("invalid commission base %q", value)
	}
	return b, nil
}
