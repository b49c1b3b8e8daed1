package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

// CommerceOrder is the customer-facing purchase record. Rows are never deleted.
type CommerceOrder struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID       uuid.UUID            `gorm:"column:customer_id;type:uuid;not null"`
	MerchantID       uuid.UUID            `gorm:"column:merchant_id;type:uuid;not null"`
	SubtotalProducts int64                `gorm:"column:subtotal_products;not null"`
	DeliveryFee      int64                `gorm:"column:delivery_fee;not null;default:0"`
	Total            int64                `gorm:"column:total;not null"`
	CommissionRate   float64              `gorm:"column:commission_rate;not null"`
	CommissionBase   enums.CommissionBase `gorm:"column:commission_base;type:commission_base;not null"`
	CommissionAmount int64                `gorm:"column:commission_amount;not null"`
	Currency         string               `gorm:"column:currency;not null;default:'ARS'"`
	PaymentMethod    enums.PaymentMethod  `gorm:"column:payment_method;type:payment_method;not null"`
	PaymentStatus    enums.PaymentStatus  `gorm:"column:payment_status;type:payment_status;not null"`
	PaymentID        *string              `gorm:"column:payment_id"`
	CheckoutURL      *string              `gorm:"column:checkout_url"`
	Status           enums.OrderStatus    `gorm:"column:order_status;type:order_status;not null;default:'created'"`
	StockReserved    bool                 `gorm:"column:stock_reserved;not null;default:false"`
	StockReleased    bool                 `gorm:"column:stock_released;not null;default:false"`
	DeliveryLegID    *uuid.UUID           `gorm:"column:delivery_leg_id;type:uuid"`
	DeliveryAddress  string               `gorm:"column:delivery_address;not null"`
	CourierID        *uuid.UUID           `gorm:"column:courier_id;type:uuid"`
	TrackingToken    string               `gorm:"column:tracking_token;not null"`
	MerchantLat      *float64             `gorm:"column:merchant_lat"`
	MerchantLng      *float64             `gorm:"column:merchant_lng"`
	CustomerLat      *float64             `gorm:"column:customer_lat"`
	CustomerLng      *float64             `gorm:"column:customer_lng"`
	DistanceKm       float64              `gorm:"column:distance_km;not null;default:0"`
	Items            []CommerceOrderItem  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name.
func (CommerceOrder) TableName() string { return "commerce_orders" }

// CommerceOrderItem snapshots the product name and price at checkout time.
type CommerceOrderItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name      string    `gorm:"column:name;not null"`
	UnitPrice int64     `gorm:"column:unit_price;not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
}

// TableName pins the table name.
func (CommerceOrderItem) TableName() string { return "commerce_order_items" }
