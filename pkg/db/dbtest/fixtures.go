package dbtest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }

// SeedProduct inserts a product owned by merchantID. A nil stock leaves inventory untracked.
func SeedProduct(t testing.TB, db *gorm.DB, merchantID uuid.UUID, name string, price int64, stock *int) models.Product {
	t.Helper()
	product := models.Product{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Name:       name,
		Price:      price,
		Stock:      stock,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// SeedOrder inserts a created cash order. mutate may adjust fields before insert.
func SeedOrder(t testing.TB, db *gorm.DB, mutate func(*models.CommerceOrder)) models.CommerceOrder {
	t.Helper()
	order := models.CommerceOrder{
		ID:               uuid.New(),
		CustomerID:       uuid.New(),
		MerchantID:       uuid.New(),
		SubtotalProducts: 20000,
		DeliveryFee:      2500,
		Total:            22500,
		CommissionRate:   0.05,
		CommissionBase:   enums.CommissionBaseSubtotal,
		CommissionAmount: 1000,
		Currency:         "ARS",
		PaymentMethod:    enums.PaymentMethodCashOnDelivery,
		PaymentStatus:    enums.PaymentStatusPendingOnDelivery,
		Status:           enums.OrderStatusCreated,
		DeliveryAddress:  "San Martin 123",
		TrackingToken:    uuid.NewString(),
	}
	if mutate != nil {
		mutate(&order)
	}
	items := order.Items
	order.Items = nil
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		items[i].OrderID = order.ID
		if err := db.Create(&items[i]).Error; err != nil {
			t.Fatalf("seed order item: %v", err)
		}
	}
	order.Items = items
	return order
}

// SeedLeg inserts a delivery leg waiting on its merchant. mutate may adjust fields before insert.
func SeedLeg(t testing.TB, db *gorm.DB, mutate func(*models.DeliveryLeg)) models.DeliveryLeg {
	t.Helper()
	leg := models.DeliveryLeg{
		ID:               uuid.New(),
		MerchantID:       uuid.New(),
		OriginText:       "Belgrano 10",
		DestinationText:  "San Martin 123",
		OriginLat:        FloatPtr(-53.7800),
		OriginLng:        FloatPtr(-67.7000),
		DestinationLat:   FloatPtr(-53.7877),
		DestinationLng:   FloatPtr(-67.7095),
		DistanceKm:       2.0,
		DeliveryPrice:    2500,
		CommissionAmount: 250,
		CourierPayout:    2250,
		PaymentMethod:    enums.LegPaymentCashDelivery,
		State:            enums.LegStateWaitingMerchant,
		TrackingToken:    uuid.NewString(),
	}
	if mutate != nil {
		mutate(&leg)
	}
	if err := db.Create(&leg).Error; err != nil {
		t.Fatalf("seed leg: %v", err)
	}
	return leg
}

// TxRunner runs callbacks in a gorm transaction, matching db.Client.WithTx.
type TxRunner struct {
	DB *gorm.DB
}

// WithTx executes fn inside a transaction.
func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}

// EventTypes lists queued outbox event types in insertion order.
func EventTypes(t testing.TB, db *gorm.DB) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	if err := db.Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("list outbox events: %v", err)
	}
	types := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}
