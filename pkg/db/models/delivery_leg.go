package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

// DeliveryLeg is the physical shipment a courier fulfills. CommerceOrderID is nil
// for standalone shipments.
type DeliveryLeg struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	CommerceOrderID  *uuid.UUID             `gorm:"column:commerce_order_id;type:uuid"`
	MerchantID       uuid.UUID              `gorm:"column:merchant_id;type:uuid;not null"`
	OriginText       string                 `gorm:"column:origin_text;not null"`
	DestinationText  string                 `gorm:"column:destination_text;not null"`
	OriginLat        *float64               `gorm:"column:origin_lat"`
	OriginLng        *float64               `gorm:"column:origin_lng"`
	DestinationLat   *float64               `gorm:"column:destination_lat"`
	DestinationLng   *float64               `gorm:"column:destination_lng"`
	DistanceKm       float64                `gorm:"column:distance_km;not null;default:0"`
	Vehicle          *enums.Vehicle         `gorm:"column:vehicle;type:vehicle"`
	DeliveryPrice    int64                  `gorm:"column:delivery_price;not null"`
	CommissionAmount int64                  `gorm:"column:commission_amount;not null"`
	CourierPayout    int64                  `gorm:"column:courier_payout;not null"`
	PaymentMethod    enums.LegPaymentMethod `gorm:"column:payment_method;type:leg_payment_method;not null"`
	State            enums.LegState         `gorm:"column:state;type:leg_state;not null"`
	CourierID        *uuid.UUID             `gorm:"column:courier_id;type:uuid"`
	TrackingToken    string                 `gorm:"column:tracking_token;not null;uniqueIndex"`
	PayoutApplied    bool                   `gorm:"column:payout_applied;not null;default:false"`
	LastLat          *float64               `gorm:"column:last_lat"`
	LastLng          *float64               `gorm:"column:last_lng"`
	LastPositionAt   *time.Time             `gorm:"column:last_position_at"`
	ProofLat         *float64               `gorm:"column:proof_lat"`
	ProofLng         *float64               `gorm:"column:proof_lng"`
	ProofAccuracyM   *float64               `gorm:"column:proof_accuracy_m"`
	ProofReportedAt  *time.Time             `gorm:"column:proof_reported_at"`
	ProofDistanceM   *float64               `gorm:"column:proof_distance_m"`
	ProofValidatedAt *time.Time             `gorm:"column:proof_validated_at"`
	ClaimedAt        *time.Time             `gorm:"column:claimed_at"`
	DeliveredAt      *time.Time             `gorm:"column:delivered_at"`
	CheckoutURL      *string                `gorm:"column:checkout_url"`
	PaymentID        *string                `gorm:"column:payment_id"`
	PaymentStatus    *enums.PaymentStatus   `gorm:"column:payment_status;type:payment_status"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name.
func (DeliveryLeg) TableName() string { return "delivery_legs" }

// IsStandalone reports whether the leg ships without a commerce order.
func (l DeliveryLeg) IsStandalone() bool {
	return l.CommerceOrderID == nil
}

// IsBoundTo reports whether the given courier currently holds the leg.
func (l DeliveryLeg) IsBoundTo(courierID uuid.UUID) bool {
	return l.CourierID != nil && *l.CourierID == courierID
}
