package globalconfig

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
)

// Repository reads and writes the singleton tunables row.
type Repository interface {
	Get(ctx context.Context) (*models.GlobalConfig, error)
	Upsert(ctx context.Context, cfg *models.GlobalConfig) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context) (*models.GlobalConfig, error) {
	var cfg models.GlobalConfig
	err := r.db.WithContext(ctx).Where("id = ?", models.GlobalConfigID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *repository) Upsert(ctx context.Context, cfg *models.GlobalConfig) error {
	cfg.ID = models.GlobalConfigID
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(cfg).Error
}
