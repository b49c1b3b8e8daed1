package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

// Wallet is the derived running balance for one courier.
type Wallet struct {
	CourierID        uuid.UUID `gorm:"column:courier_id;type:uuid;primaryKey"`
	Balance          int64     `gorm:"column:balance;not null;default:0"`
	Pending          int64     `gorm:"column:pending;not null;default:0"`
	TotalEarned      int64     `gorm:"column:total_earned;not null;default:0"`
	TotalCommissions int64     `gorm:"column:total_commissions;not null;default:0"`
	TotalWithdrawn   int64     `gorm:"column:total_withdrawn;not null;default:0"`
	Currency         string    `gorm:"column:currency;not null;default:'ARS'"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name.
func (Wallet) TableName() string { return "wallets" }

// WalletTransaction is an append-only ledger entry.
type WalletTransaction struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	CourierID     uuid.UUID            `gorm:"column:courier_id;type:uuid;not null"`
	Type          enums.WalletTxType   `gorm:"column:type;type:wallet_tx_type;not null"`
	Amount        int64                `gorm:"column:amount;not null"`
	Status        enums.WalletTxStatus `gorm:"column:status;type:wallet_tx_status;not null"`
	OrderID       *uuid.UUID           `gorm:"column:order_id;type:uuid"`
	DeliveryLegID *uuid.UUID           `gorm:"column:delivery_leg_id;type:uuid"`
	Reason        *string              `gorm:"column:reason"`
	ActorID       *uuid.UUID           `gorm:"column:actor_id;type:uuid"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the table name.
func (WalletTransaction) TableName() string { return "wallet_transactions" }
