package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
)

const defaultMaxAttempts = 5

// Item is one product quantity to reserve.
type Item struct {
	ProductID uuid.UUID
	Quantity  int
}

// Result reports what a reservation call did.
type Result struct {
	// Reserved is false when the order already held its reservation.
	Reserved bool
}

// Service reserves and releases product stock for an order.
type Service interface {
	Reserve(ctx context.Context, orderID uuid.UUID, items []Item) (Result, error)
	Release(ctx context.Context, orderID uuid.UUID, items []Item) error
}

type service struct {
	repo        Repository
	maxAttempts int
	logg        *logger.Logger
	metrics     *metrics.DomainMetrics
}

// NewService builds the reservation manager. maxAttempts bounds version-conflict retries per item.
func NewService(repo Repository, maxAttempts int, logg *logger.Logger, m *metrics.DomainMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &service{repo: repo, maxAttempts: maxAttempts, logg: logg, metrics: m}, nil
}

type applied struct {
	productID uuid.UUID
	qty       int
}

func (s *service) Reserve(ctx context.Context, orderID uuid.UUID, items []Item) (Result, error) {
	if orderID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	reserved, err := s.repo.IsReserved(ctx, orderID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read reservation flag")
	}
	if reserved {
		s.metrics.StockReservation(metrics.OutcomeNoop)
		return Result{Reserved: false}, nil
	}

	merged, err := mergeItems(items)
	if err != nil {
		return Result{}, err
	}

	done := make([]applied, 0, len(merged))
	for _, item := range merged {
		ok, err := s.reserveOne(ctx, item)
		if err != nil {
			s.metrics.StockReservation(outcomeFor(err))
			return Result{}, s.compensate(ctx, orderID, done, err)
		}
		if ok {
			done = append(done, applied{productID: item.ProductID, qty: item.Quantity})
		}
	}

	won, err := s.repo.MarkReserved(ctx, orderID)
	if err != nil {
		return Result{}, s.compensate(ctx, orderID, done, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag order reserved"))
	}
	if !won {
		// A concurrent confirmation already reserved this order; undo ours.
		if cerr := s.compensate(ctx, orderID, done, nil); cerr != nil {
			return Result{}, cerr
		}
		s.metrics.StockReservation(metrics.OutcomeNoop)
		return Result{Reserved: false}, nil
	}
	s.metrics.StockReservation(metrics.OutcomeAccepted)
	return Result{Reserved: true}, nil
}

// reserveOne decrements a single product. It returns false when the product
// does not track stock.
func (s *service) reserveOne(ctx context.Context, item Item) (bool, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
		}
		if product == nil {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		if product.Stock == nil {
			return false, nil
		}
		if *product.Stock < item.Quantity {
			return false, pkgerrors.New(pkgerrors.CodeStockInsufficient, fmt.Sprintf("insufficient stock for %s", product.Name)).
				WithDetails(map[string]any{
					"product_id":   product.ID,
					"product_name": product.Name,
					"available":    *product.Stock,
					"requested":    item.Quantity,
				})
		}
		ok, err := s.repo.DecrementIfVersion(ctx, product.ID, item.Quantity, product.Version)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
		}
		if ok {
			return true, nil
		}
	}
	return false, pkgerrors.New(pkgerrors.CodeConflict, "stock changed concurrently, retry").
		WithDetails(map[string]any{"product_id": item.ProductID, "attempts": s.maxAttempts})
}

// compensate restores earlier decrements of a failed batch and returns cause
// with any restore failures appended.
func (s *service) compensate(ctx context.Context, orderID uuid.UUID, done []applied, cause error) error {
	var restoreErr error
	for _, a := range done {
		if err := s.repo.Increment(ctx, a.productID, a.qty); err != nil {
			restoreErr = multierr.Append(restoreErr, fmt.Errorf("restore product %s: %w", a.productID, err))
		}
	}
	if restoreErr != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "restored": len(done)})
		s.logg.Error(logCtx, "stock compensation incomplete", restoreErr)
	}
	if cause == nil {
		return restoreErr
	}
	if restoreErr == nil {
		return cause
	}
	return multierr.Append(cause, restoreErr)
}

func (s *service) Release(ctx context.Context, orderID uuid.UUID, items []Item) error {
	won, err := s.repo.MarkReleased(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag order released")
	}
	if !won {
		return nil
	}
	merged, err := mergeItems(items)
	if err != nil {
		return err
	}
	var errs error
	for _, item := range merged {
		if err := s.repo.Increment(ctx, item.ProductID, item.Quantity); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release product %s: %w", item.ProductID, err))
		}
	}
	if errs != nil && s.logg != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "stock release incomplete", errs)
	}
	return errs
}

func mergeItems(items []Item) ([]Item, error) {
	index := make(map[uuid.UUID]int, len(items))
	merged := make([]Item, 0, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil || item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "items require product id and positive quantity")
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func outcomeFor(err error) string {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeStockInsufficient):
		return metrics.OutcomeRejected
	case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
		return metrics.OutcomeConflict
	default:
		return "error"
	}
}
