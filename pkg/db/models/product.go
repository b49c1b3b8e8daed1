package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a merchant listing. A nil Stock means inventory is not tracked.
// Version is bumped on every stock write and guards optimistic updates.
type Product struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	MerchantID uuid.UUID `gorm:"column:merchant_id;type:uuid;not null"`
	Name       string    `gorm:"column:name;not null"`
	Price      int64     `gorm:"column:price;not null"`
	Stock      *int      `gorm:"column:stock"`
	Version    int       `gorm:"column:version;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name.
func (Product) TableName() string { return "products" }
