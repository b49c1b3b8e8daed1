package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

// Repository persists commerce orders. Status writes are conditional on the
// status the caller read.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.CommerceOrder) error
	SetDeliveryLeg(ctx context.Context, orderID, legID uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CommerceOrder, error)
	FindProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error)
	SetCourier(ctx context.Context, id, courierID uuid.UUID) error
	SetCheckoutURL(ctx context.Context, id uuid.UUID, url string) error
	UpdatePayment(ctx context.Context, id uuid.UUID, paymentID string, status enums.PaymentStatus) (bool, error)
	ListOpenLinked(ctx context.Context, after uuid.UUID, limit int) ([]models.CommerceOrder, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order and its item snapshots.
func (r *repository) Create(ctx context.Context, order *models.CommerceOrder) error {
	items := order.Items
	if err := r.db.WithContext(ctx).Omit("Items").Create(order).Error; err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
		items[i].OrderID = order.ID
	}
	if len(items) > 0 {
		if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
			return err
		}
	}
	order.Items = items
	return nil
}

func (r *repository) SetDeliveryLeg(ctx context.Context, orderID, legID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CommerceOrder{}).
		Where("id = ?", orderID).
		Update("delivery_leg_id", legID).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CommerceOrder, error) {
	var order models.CommerceOrder
	if err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var products []models.Product
	if len(ids) == 0 {
		return products, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CommerceOrder{}).
		Where("id = ? AND order_status = ?", id, from).
		Updates(map[string]any{"order_status": to, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) SetCourier(ctx context.Context, id, courierID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CommerceOrder{}).
		Where("id = ?", id).
		Updates(map[string]any{"courier_id": courierID, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) SetCheckoutURL(ctx context.Context, id uuid.UUID, url string) error {
	return r.db.WithContext(ctx).
		Model(&models.CommerceOrder{}).
		Where("id = ?", id).
		Updates(map[string]any{"checkout_url": url, "updated_at": time.Now().UTC()}).Error
}

// UpdatePayment records a gateway status. It reports false when the row already
// carries the same payment id and status.
func (r *repository) UpdatePayment(ctx context.Context, id uuid.UUID, paymentID string, status enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CommerceOrder{}).
		Where("id = ? AND (payment_id IS NULL OR payment_id <> ? OR payment_status <> ?)", id, paymentID, status).
		Updates(map[string]any{
			"payment_id":     paymentID,
			"payment_status": status,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// ListOpenLinked pages non-terminal orders with a leg, ordered by id.
func (r *repository) ListOpenLinked(ctx context.Context, after uuid.UUID, limit int) ([]models.CommerceOrder, error) {
	query := r.db.WithContext(ctx).
		Where("order_status NOT IN ? AND delivery_leg_id IS NOT NULL",
			[]enums.OrderStatus{enums.OrderStatusDelivered, enums.OrderStatusCancelled}).
		Order("id ASC").
		Limit(limit)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	var orders []models.CommerceOrder
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// IsNotFound reports whether err is a missing-row lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
