package legs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/pagination"
)

// Proof is the accepted delivery evidence written with the terminal state.
type Proof struct {
	Lat         float64
	Lng         float64
	AccuracyM   float64
	ReportedAt  time.Time
	DistanceM   float64
	ValidatedAt time.Time
}

// Repository persists delivery legs. Every state write is conditional.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, leg *models.DeliveryLeg) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryLeg, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.DeliveryLeg, error)
	FindByTrackingToken(ctx context.Context, token string) (*models.DeliveryLeg, error)
	CompareAndSetState(ctx context.Context, id uuid.UUID, from, to enums.LegState) (bool, error)
	Claim(ctx context.Context, id, courierID uuid.UUID, at time.Time) (bool, error)
	Assign(ctx context.Context, id, courierID uuid.UUID, at time.Time) (bool, error)
	UpdatePosition(ctx context.Context, id, courierID uuid.UUID, lat, lng float64, at time.Time) (bool, error)
	MarkDelivered(ctx context.Context, id, courierID uuid.UUID, proof Proof) (bool, error)
	SetCheckout(ctx context.Context, id uuid.UUID, url string) error
	UpdatePayment(ctx context.Context, id uuid.UUID, paymentID string, status enums.PaymentStatus) (bool, error)
	ListAvailable(ctx context.Context, params pagination.Params) ([]models.DeliveryLeg, error)
	ListDeliveredUnpaid(ctx context.Context, limit int) ([]models.DeliveryLeg, error)
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

func (r *repository) Create(ctx context.Context, leg *models.DeliveryLeg) error {
	return r.db.WithContext(ctx).Create(leg).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryLeg, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.DeliveryLeg, error) {
	return r.first(ctx, "commerce_order_id = ?", orderID)
}

func (r *repository) FindByTrackingToken(ctx context.Context, token string) (*models.DeliveryLeg, error) {
	return r.first(ctx, "tracking_token = ?", token)
}

func (r *repository) first(ctx context.Context, query string, args ...any) (*models.DeliveryLeg, error) {
	var leg models.DeliveryLeg
	if err := r.db.WithContext(ctx).Where(query, args...).First(&leg).Error; err != nil {
		return nil, err
	}
	return &leg, nil
}

func (r *repository) CompareAndSetState(ctx context.Context, id uuid.UUID, from, to enums.LegState) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryLeg{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]any{"state": to, "updated_at": time.Now().UTC()})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) Claim(ctx context.Context, id, courierID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryLeg{}).
		Where("id = ? AND courier_id IS NULL AND state IN ?", id, enums.ClaimableLegStates()).
		Updates(map[string]any{
			"courier_id": courierID,
			"state":      enums.LegStateHeadingToPickup,
			"claimed_at": at,
			"updated_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) Assign(ctx context.Context, id, courierID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryLeg{}).
		Where("id = ? AND state NOT IN ?", id, terminalStates()).
		Updates(map[string]any{
			"courier_id": courierID,
			"state": gorm.Expr("CASE WHEN state IN ? THEN ? ELSE state END",
				preDispatchStates(), enums.LegStateHeadingToPickup),
			"claimed_at": at,
			"updated_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) UpdatePosition(ctx context.Context, id, courierID uuid.UUID, lat, lng float64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryLeg{}).
		Where("id = ? AND courier_id = ? AND state NOT IN ?", id, courierID, terminalStates()).
		Updates(map[string]any{
			"last_lat":         lat,
			"last_lng":         lng,
			"last_position_at": at,
			"updated_at":       time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// SetCheckout stores the payment link and marks the shipment payment pending.
func (r *repository) SetCheckout(ctx context.Context, id uuid.UUID, url string) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryLeg{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"checkout_url":   url,
			"payment_status": enums.PaymentStatusPending,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// UpdatePayment records a gateway status. It reports false when the row already
// carries the same payment id and status.
func (r *repository) UpdatePayment(ctx context.Context, id uuid.UUID, paymentID string, status enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryLeg{}).
		Where("id = ? AND (payment_id IS NULL OR payment_id <> ? OR payment_status IS NULL OR payment_status <> ?)", id, paymentID, status).
		Updates(map[string]any{
			"payment_id":     paymentID,
			"payment_status": status,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkDelivered(ctx context.Context, id, courierID uuid.UUID, proof Proof) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryLeg{}).
		Where("id = ? AND courier_id = ? AND state = ?", id, courierID, enums.LegStateInTransit).
		Updates(map[string]any{
			"state":              enums.LegStateDelivered,
			"proof_lat":          proof.Lat,
			"proof_lng":          proof.Lng,
			"proof_accuracy_m":   proof.AccuracyM,
			"proof_reported_at":  proof.ReportedAt,
			"proof_distance_m":   proof.DistanceM,
			"proof_validated_at": proof.ValidatedAt,
			"delivered_at":       proof.ValidatedAt,
			"last_lat":           proof.Lat,
			"last_lng":           proof.Lng,
			"last_position_at":   proof.ReportedAt,
			"updated_at":         proof.ValidatedAt,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) ListAvailable(ctx context.Context, params pagination.Params) ([]models.DeliveryLeg, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	var legs []models.DeliveryLeg
	err = r.db.WithContext(ctx).
		Where("courier_id IS NULL AND state IN ?", enums.ClaimableLegStates()).
		Scopes(pagination.Keyset(cursor, pagination.Ascending, params.Limit)).
		Find(&legs).Error
	return legs, err
}

func (r *repository) ListDeliveredUnpaid(ctx context.Context, limit int) ([]models.DeliveryLeg, error) {
	var legs []models.DeliveryLeg
	err := r.db.WithContext(ctx).
		Where("state = ? AND payout_applied = ? AND courier_id IS NOT NULL", enums.LegStateDelivered, false).
		Order("delivered_at ASC").
		Limit(limit).
		Find(&legs).Error
	return legs, err
}

// IsNotFound reports whether err is a missing-row lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func terminalStates() []enums.LegState {
	return []enums.LegState{enums.LegStateDelivered, enums.LegStateCancelled}
}

func preDispatchStates() []enums.LegState {
	return []enums.LegState{
		enums.LegStateWaitingMerchant,
		enums.LegStatePreparing,
		enums.LegStateReadyForPickup,
		enums.LegStateSearching,
	}
}
