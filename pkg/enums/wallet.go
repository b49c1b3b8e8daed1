package enums

import "fmt"

// WalletTxType classifies an entry in a courier's wallet ledger.
type WalletTxType string

const (
	WalletTxCredit          WalletTxType = "credit"
	WalletTxCommission      WalletTxType = "commission"
	WalletTxWithdraw        WalletTxType = "withdraw"
	WalletTxAdminAdjustment WalletTxType = "admin_adjustment"
)

var validWalletTxTypes = []WalletTxType{
	WalletTxCredit,
	WalletTxCommission,
	WalletTxWithdraw,
	WalletTxAdminAdjustment,
}

// IsValid reports whether the value is a known WalletTxType.
func (t WalletTxType) IsValid() bool {
	for _, candidate := range validWalletTxTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseWalletTxType converts raw input into a WalletTxType.
func ParseWalletTxType(value string) (WalletTxType, error) {
	for _, candidate := range validWalletTxTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}

// WalletTxStatus reports whether a wallet entry has settled.
type WalletTxStatus string

const (
	WalletTxStatusCompleted WalletTxStatus = "completed"
	WalletTxStatusPending   WalletTxStatus = "pending"
)
