package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/repartos-backend/internal/orders"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

const defaultReconcileBatch = 200

type orderReconciler interface {
	Reconcile(ctx context.Context, batch int) (orders.ReconcileResult, error)
}

type payoutRepairer interface {
	RepairPayouts(ctx context.Context, limit int) (int, error)
}

// LegReconcileJobParams wires the reconciliation job.
type LegReconcileJobParams struct {
	Logger *logger.Logger
	Orders orderReconciler
	Wallet payoutRepairer
	Batch  int
}

// NewLegReconcileJob repairs the gaps left by best-effort cross-aggregate
// writes: stale leg mirrors, orders behind their courier's shipment or its
// delivery, and delivered legs that were never paid out.
func NewLegReconcileJob(params LegReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order reconciler required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("payout repairer required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &legReconcileJob{logg: params.Logger, orders: params.Orders, wallet: params.Wallet, batch: batch}, nil
}

type legReconcileJob struct {
	logg   *logger.Logger
	orders orderReconciler
	wallet payoutRepairer
	batch  int
}

func (j *legReconcileJob) Name() string { return "leg-reconcile" }

// Run reconciles orders before payouts so legs delivered during the sweep are
// paid in the same cycle.
func (j *legReconcileJob) Run(ctx context.Context) error {
	var errs error
	result, err := j.orders.Reconcile(ctx, j.batch)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("reconcile orders: %w", err))
	}
	paid, err := j.wallet.RepairPayouts(ctx, j.batch)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("repair payouts: %w", err))
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"orders_scanned":   result.Scanned,
		"legs_advanced":    result.LegsAdvanced,
		"orders_advanced":  result.OrdersAdvanced,
		"orders_completed": result.OrdersCompleted,
		"payouts_repaired": paid,
	}), "leg reconciliation complete")
	return errs
}
