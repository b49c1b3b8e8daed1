package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/pagination"
)

// Delta is a signed change to a wallet's running totals.
type Delta struct {
	Balance          int64
	Pending          int64
	TotalEarned      int64
	TotalCommissions int64
	TotalWithdrawn   int64
}

// Repository persists wallets and their append-only transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	MarkPayoutApplied(ctx context.Context, legID uuid.UUID) (bool, error)
	Ensure(ctx context.Context, courierID uuid.UUID) error
	Apply(ctx context.Context, courierID uuid.UUID, delta Delta) error
	Withdraw(ctx context.Context, courierID uuid.UUID, amount int64) (bool, error)
	Append(ctx context.Context, entry *models.WalletTransaction) error
	Get(ctx context.Context, courierID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, courierID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error)
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

// MarkPayoutApplied flips the leg's payout guard. Only one caller ever sees true.
func (r *repository) MarkPayoutApplied(ctx context.Context, legID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryLeg{}).
		Where("id = ? AND payout_applied = ?", legID, false).
		Updates(map[string]any{"payout_applied": true, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

// Ensure creates an empty wallet for courierID if none exists.
func (r *repository) Ensure(ctx context.Context, courierID uuid.UUID) error {
	now := time.Now().UTC()
	row := &models.Wallet{
		CourierID: courierID,
		Currency:  string(enums.CurrencyARS),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "courier_id"}}, DoNothing: true}).
		Create(row).Error
}

func (r *repository) Apply(ctx context.Context, courierID uuid.UUID, delta Delta) error {
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("courier_id = ?", courierID).
		Updates(map[string]any{
			"balance":           gorm.Expr("balance + ?", delta.Balance),
			"pending":           gorm.Expr("pending + ?", delta.Pending),
			"total_earned":      gorm.Expr("total_earned + ?", delta.TotalEarned),
			"total_commissions": gorm.Expr("total_commissions + ?", delta.TotalCommissions),
			"total_withdrawn":   gorm.Expr("total_withdrawn + ?", delta.TotalWithdrawn),
			"updated_at":        time.Now().UTC(),
		}).Error
}

// Withdraw moves amount from balance to pending when the balance covers it.
func (r *repository) Withdraw(ctx context.Context, courierID uuid.UUID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("courier_id = ? AND balance >= ?", courierID, amount).
		Updates(map[string]any{
			"balance":         gorm.Expr("balance - ?", amount),
			"pending":         gorm.Expr("pending + ?", amount),
			"total_withdrawn": gorm.Expr("total_withdrawn + ?", amount),
			"updated_at":      time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) Append(ctx context.Context, entry *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// Get returns nil, nil when the courier has no wallet yet.
func (r *repository) Get(ctx context.Context, courierID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.WithContext(ctx).Where("courier_id = ?", courierID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListTransactions returns newest first, starting strictly after cursor. It
// fetches one row past limit so the caller can tell whether more exist.
func (r *repository) ListTransactions(ctx context.Context, courierID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("courier_id = ?", courierID).
		Scopes(pagination.Keyset(cursor, pagination.Descending, limit)).
		Find(&rows).Error
	return rows, err
}
