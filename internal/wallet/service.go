package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
	"github.com/angelmondragon/repartos-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/repartos-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PayoutResult reports what ApplyPayout did. Applied is false when the leg had
// already been paid out.
type PayoutResult struct {
	Applied     bool
	Transaction *models.WalletTransaction
	Wallet      *models.Wallet
}

// AdjustInput is a manual admin correction.
type AdjustInput struct {
	Actor     auth.Actor
	CourierID uuid.UUID
	Amount    int64
	Reason    string
}

// TransactionPage is one page of ledger history, newest first.
type TransactionPage struct {
	Transactions []models.WalletTransaction
	NextCursor   string
}

// Service is the courier wallet ledger. Balances only change together with an
// appended transaction.
type Service interface {
	ApplyPayout(ctx context.Context, legID uuid.UUID) (PayoutResult, error)
	RepairPayouts(ctx context.Context, limit int) (int, error)
	Withdraw(ctx context.Context, actor auth.Actor, courierID uuid.UUID, amount int64) (*models.WalletTransaction, error)
	AdminAdjust(ctx context.Context, input AdjustInput) (*models.WalletTransaction, error)
	Get(ctx context.Context, actor auth.Actor, courierID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, actor auth.Actor, courierID uuid.UUID, params pagination.Params) (*TransactionPage, error)
}

type service struct {
	repo    Repository
	legs    legs.Repository
	tx      txRunner
	outbox  outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.DomainMetrics
}

// NewService wires the wallet ledger.
func NewService(repo Repository, legRepo legs.Repository, tx txRunner, emitter outbox.Emitter, logg *logger.Logger, m *metrics.DomainMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if legRepo == nil {
		return nil, fmt.Errorf("legs repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, legs: legRepo, tx: tx, outbox: emitter, logg: logg, metrics: m}, nil
}

func (s *service) ApplyPayout(ctx context.Context, legID uuid.UUID) (PayoutResult, error) {
	var result PayoutResult
	txType := ""
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		leg, err := s.legs.WithTx(tx).FindByID(ctx, legID)
		if err != nil {
			if legs.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
		}
		if leg.State != enums.LegStateDelivered {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "payout requires a delivered shipment").
				WithDetails(map[string]any{"leg_id": leg.ID, "state": leg.State})
		}
		if leg.CourierID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "delivered shipment has no courier")
		}
		courierID := *leg.CourierID

		repo := s.repo.WithTx(tx)
		won, err := repo.MarkPayoutApplied(ctx, leg.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag payout applied")
		}
		if !won {
			return nil
		}

		entry := &models.WalletTransaction{
			ID:            uuid.New(),
			CourierID:     courierID,
			Status:        enums.WalletTxStatusCompleted,
			OrderID:       leg.CommerceOrderID,
			DeliveryLegID: &leg.ID,
			CreatedAt:     time.Now().UTC(),
		}
		var delta Delta
		if leg.PaymentMethod.CourierCollects() {
			entry.Type = enums.WalletTxCommission
			entry.Amount = -leg.CommissionAmount
			delta = Delta{Balance: -leg.CommissionAmount, TotalCommissions: leg.CommissionAmount}
		} else {
			entry.Type = enums.WalletTxCredit
			entry.Amount = leg.CourierPayout
			delta = Delta{Balance: leg.CourierPayout, TotalEarned: leg.CourierPayout}
		}
		txType = string(entry.Type)

		w, err := s.post(ctx, repo, entry, delta)
		if err != nil {
			return err
		}
		result = PayoutResult{Applied: true, Transaction: entry, Wallet: w}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletPayoutApplied,
			AggregateType: enums.AggregateWallet,
			AggregateID:   courierID,
			Actor:         auth.SystemActor.Ref(),
			Data: payloads.WalletPayoutAppliedEvent{
				CourierID:     courierID,
				DeliveryLegID: leg.ID,
				OrderID:       leg.CommerceOrderID,
				Type:          entry.Type,
				Amount:        entry.Amount,
				Balance:       w.Balance,
			},
		})
	})
	if err != nil {
		s.metrics.Payout(txType, metrics.OutcomeRejected)
		return PayoutResult{}, err
	}
	if !result.Applied {
		s.metrics.Payout(txType, metrics.OutcomeNoop)
		return result, nil
	}
	s.metrics.Payout(txType, metrics.OutcomeAccepted)

	logCtx := s.logg.WithFields(s.logg.WithLegID(ctx, legID.String()), map[string]any{
		"courier_id": result.Transaction.CourierID.String(),
		"type":       result.Transaction.Type,
		"amount":     result.Transaction.Amount,
	})
	s.logg.Info(logCtx, "payout applied")
	return result, nil
}

// post appends entry and applies delta to the courier's wallet, creating it on
// first use.
func (s *service) post(ctx context.Context, repo Repository, entry *models.WalletTransaction, delta Delta) (*models.Wallet, error) {
	if err := repo.Ensure(ctx, entry.CourierID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure wallet")
	}
	if err := repo.Append(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append wallet transaction")
	}
	if err := repo.Apply(ctx, entry.CourierID, delta); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balance")
	}
	w, err := repo.Get(ctx, entry.CourierID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload wallet")
	}
	return w, nil
}

// RepairPayouts applies payouts for delivered legs whose payout never ran.
func (s *service) RepairPayouts(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	pending, err := s.legs.ListDeliveredUnpaid(ctx, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unpaid deliveries")
	}
	applied := 0
	var errs error
	for _, leg := range pending {
		res, err := s.ApplyPayout(ctx, leg.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("leg %s: %w", leg.ID, err))
			continue
		}
		if res.Applied {
			applied++
		}
	}
	return applied, errs
}

func (s *service) Withdraw(ctx context.Context, actor auth.Actor, courierID uuid.UUID, amount int64) (*models.WalletTransaction, error) {
	if err := authorize(actor, courierID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	entry := &models.WalletTransaction{
		ID:        uuid.New(),
		CourierID: courierID,
		Type:      enums.WalletTxWithdraw,
		Amount:    -amount,
		Status:    enums.WalletTxStatusPending,
		ActorID:   actor.IDPtr(),
		CreatedAt: time.Now().UTC(),
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Ensure(ctx, courierID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure wallet")
		}
		ok, err := repo.Withdraw(ctx, courierID, amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve withdrawal")
		}
		if !ok {
			w, _ := repo.Get(ctx, courierID)
			details := map[string]any{"requested": amount}
			if w != nil {
				details["balance"] = w.Balance
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient balance").WithDetails(details)
		}
		if err := repo.Append(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append wallet transaction")
		}
		w, err := repo.Get(ctx, courierID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload wallet")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletWithdrawal,
			AggregateType: enums.AggregateWallet,
			AggregateID:   courierID,
			Actor:         actor.Ref(),
			Data: payloads.WalletWithdrawalEvent{
				CourierID:     courierID,
				TransactionID: entry.ID,
				Amount:        amount,
				Pending:       w.Pending,
			},
		})
	})
	if err != nil {
		s.metrics.Payout(string(enums.WalletTxWithdraw), metrics.OutcomeRejected)
		return nil, err
	}
	s.metrics.Payout(string(enums.WalletTxWithdraw), metrics.OutcomeAccepted)
	return entry, nil
}

func (s *service) AdminAdjust(ctx context.Context, input AdjustInput) (*models.WalletTransaction, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins adjust wallets")
	}
	if input.CourierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "courier id is required")
	}
	if input.Amount == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-zero")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	entry := &models.WalletTransaction{
		ID:        uuid.New(),
		CourierID: input.CourierID,
		Type:      enums.WalletTxAdminAdjustment,
		Amount:    input.Amount,
		Status:    enums.WalletTxStatusCompleted,
		Reason:    &reason,
		ActorID:   input.Actor.IDPtr(),
		CreatedAt: time.Now().UTC(),
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		w, err := s.post(ctx, s.repo.WithTx(tx), entry, Delta{Balance: input.Amount})
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletAdjusted,
			AggregateType: enums.AggregateWallet,
			AggregateID:   input.CourierID,
			Actor:         input.Actor.Ref(),
			Data: payloads.WalletAdjustedEvent{
				CourierID:     input.CourierID,
				TransactionID: entry.ID,
				Amount:        input.Amount,
				Reason:        reason,
				Balance:       w.Balance,
			},
		})
	})
	if err != nil {
		s.metrics.Payout(string(enums.WalletTxAdminAdjustment), metrics.OutcomeRejected)
		return nil, err
	}
	s.metrics.Payout(string(enums.WalletTxAdminAdjustment), metrics.OutcomeAccepted)

	logCtx := s.logg.WithFields(s.logg.WithUserID(ctx, input.Actor.ID.String()), map[string]any{
		"courier_id": input.CourierID.String(),
		"amount":     input.Amount,
	})
	s.logg.Info(logCtx, "wallet adjusted")
	return entry, nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, courierID uuid.UUID) (*models.Wallet, error) {
	if err := authorize(actor, courierID); err != nil {
		return nil, err
	}
	w, err := s.repo.Get(ctx, courierID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	if w == nil {
		return &models.Wallet{CourierID: courierID, Currency: string(enums.CurrencyARS)}, nil
	}
	return w, nil
}

func (s *service) ListTransactions(ctx context.Context, actor auth.Actor, courierID uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	if err := authorize(actor, courierID); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListTransactions(ctx, courierID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet transactions")
	}
	page := &TransactionPage{}
	page.Transactions, page.NextCursor = pagination.Trim(rows, params.Limit, func(tx models.WalletTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: tx.CreatedAt, ID: tx.ID}
	})
	return page, nil
}

// authorize lets couriers reach their own wallet and admins reach any.
func authorize(actor auth.Actor, courierID uuid.UUID) error {
	if courierID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "courier id is required")
	}
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role == enums.ActorRoleCourier && actor.ID == courierID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "wallet not accessible to actor")
}
