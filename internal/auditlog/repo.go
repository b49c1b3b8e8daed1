package auditlog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
)

// Repository appends and reads order_status_log rows. The log is append-only.
type Repository interface {
	Create(ctx context.Context, entry *models.StatusLogEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StatusLogEntry, error)
	Latest(ctx context.Context, orderID uuid.UUID) (*models.StatusLogEntry, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) forOrder(ctx context.Context, orderID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.StatusLogEntry{}).Where("order_id = ?", orderID)
}

func (r *repository) Create(ctx context.Context, entry *models.StatusLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StatusLogEntry, error) {
	entries := []models.StatusLogEntry{}
	err := r.forOrder(ctx, orderID).Order("created_at, id").Find(&entries).Error
	return entries, err
}

// Latest returns nil when the order has no history yet.
func (r *repository) Latest(ctx context.Context, orderID uuid.UUID) (*models.StatusLogEntry, error) {
	var rows []models.StatusLogEntry
	if err := r.forOrder(ctx, orderID).Order("created_at DESC, id DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
