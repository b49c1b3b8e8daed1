package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
)

// Repository performs the conditional product and order writes reservation relies on.
type Repository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	DecrementIfVersion(ctx context.Context, id uuid.UUID, qty, version int) (bool, error)
	Increment(ctx context.Context, id uuid.UUID, qty int) error
	IsReserved(ctx context.Context, orderID uuid.UUID) (bool, error)
	MarkReserved(ctx context.Context, orderID uuid.UUID) (bool, error)
	MarkReleased(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) DecrementIfVersion(ctx context.Context, id uuid.UUID, qty, version int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND version = ? AND stock IS NOT NULL AND stock >= ?", id, version, qty).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", qty),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Increment(ctx context.Context, id uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock IS NOT NULL", id).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", qty),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) IsReserved(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var order models.CommerceOrder
	err := r.db.WithContext(ctx).Select("id", "stock_reserved").Where("id = ?", orderID).First(&order).Error
	if err != nil {
		return false, err
	}
	return order.StockReserved, nil
}

func (r *repository) MarkReserved(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CommerceOrder{}).
		Where("id = ? AND stock_reserved = ?", orderID, false).
		Update("stock_reserved", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkReleased(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CommerceOrder{}).
		Where("id = ? AND stock_reserved = ? AND stock_released = ?", orderID, true, false).
		Update("stock_released", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
