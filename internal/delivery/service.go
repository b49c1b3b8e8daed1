// Package delivery confirms a courier's delivery once the reported position
// passes the proximity check, then settles the order and the courier wallet.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/internal/proximity"
	"github.com/angelmondragon/repartos-backend/internal/wallet"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/geo"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
	"github.com/angelmondragon/repartos-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderCompleter moves the linked commerce order to delivered.
type OrderCompleter interface {
	CompleteDelivery(ctx context.Context, orderID uuid.UUID, actor auth.Actor) error
}

// PayoutApplier settles the courier wallet for a delivered leg.
type PayoutApplier interface {
	ApplyPayout(ctx context.Context, legID uuid.UUID) (wallet.PayoutResult, error)
}

// OrderReader resolves the customer's stored location.
type OrderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.CommerceOrder, error)
}

// DeliverInput is a courier's delivery confirmation. Exactly one of LegID and
// OrderID identifies the shipment.
type DeliverInput struct {
	Actor      auth.Actor
	LegID      uuid.UUID
	OrderID    uuid.UUID
	Lat        float64
	Lng        float64
	AccuracyM  float64
	ReportedAt time.Time
}

// Result describes an accepted delivery.
type Result struct {
	Leg              *models.DeliveryLeg
	DistanceM        float64
	AlreadyDelivered bool
}

// Service confirms deliveries.
type Service interface {
	Deliver(ctx context.Context, input DeliverInput) (*Result, error)
}

// ServiceParams wires the delivery service.
type ServiceParams struct {
	Legs      legs.Repository
	OrderRows OrderReader
	Orders    OrderCompleter
	Wallet    PayoutApplier
	Rates     legs.RatesProvider
	Tx        txRunner
	Outbox    outbox.Emitter
	Logger    *logger.Logger
	Metrics   *metrics.DomainMetrics
}

type service struct {
	legs      legs.Repository
	orders    OrderReader
	completer OrderCompleter
	wallet    PayoutApplier
	rates     legs.RatesProvider
	tx        txRunner
	outbox    outbox.Emitter
	logg      *logger.Logger
	metrics   *metrics.DomainMetrics
}

// NewService validates and wires the delivery service.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Legs == nil:
		return nil, fmt.Errorf("legs repository required")
	case p.OrderRows == nil:
		return nil, fmt.Errorf("order reader required")
	case p.Orders == nil:
		return nil, fmt.Errorf("order completer required")
	case p.Wallet == nil:
		return nil, fmt.Errorf("wallet service required")
	case p.Rates == nil:
		return nil, fmt.Errorf("rates provider required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		legs:      p.Legs,
		orders:    p.OrderRows,
		completer: p.Orders,
		wallet:    p.Wallet,
		rates:     p.Rates,
		tx:        p.Tx,
		outbox:    p.Outbox,
		logg:      p.Logger,
		metrics:   p.Metrics,
	}, nil
}

func (s *service) Deliver(ctx context.Context, input DeliverInput) (*Result, error) {
	if input.Actor.Role != enums.ActorRoleCourier {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only couriers confirm deliveries")
	}
	leg, err := s.resolveLeg(ctx, input)
	if err != nil {
		return nil, err
	}
	if !leg.IsBoundTo(input.Actor.ID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "shipment is not assigned to this courier")
	}
	ctx = s.logg.WithFields(s.logg.WithLegID(ctx, leg.ID.String()), map[string]any{"courier_id": input.Actor.ID.String()})

	if leg.State == enums.LegStateDelivered {
		s.settle(ctx, leg, input.Actor)
		return delivered(leg), nil
	}
	if leg.State != enums.LegStateInTransit {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "shipment must be picked up before delivery").
			WithDetails(map[string]any{"from": leg.State, "to": enums.LegStateDelivered})
	}

	report := proximity.Report{Lat: input.Lat, Lng: input.Lng, AccuracyM: input.AccuracyM, ReportedAt: input.ReportedAt}
	if report.ReportedAt.IsZero() {
		report.ReportedAt = time.Now().UTC()
	}
	fence := s.geofence(ctx)
	destination := s.destination(ctx, leg)
	check := proximity.Validate(report, destination, fence)
	if !check.Accepted {
		s.metrics.Proximity(metrics.OutcomeRejected, string(check.Reason), check.DistanceM)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"reason":     check.Reason,
			"distance_m": check.DistanceM,
			"accuracy_m": report.AccuracyM,
		}), "delivery rejected by proximity check")
		return nil, check.Err(report, fence)
	}

	proof := legs.Proof{
		Lat:         report.Lat,
		Lng:         report.Lng,
		AccuracyM:   report.AccuracyM,
		ReportedAt:  report.ReportedAt.UTC(),
		DistanceM:   check.DistanceM,
		ValidatedAt: time.Now().UTC(),
	}
	var updated *models.DeliveryLeg
	raced := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.legs.WithTx(tx)
		won, err := repo.MarkDelivered(ctx, leg.ID, input.Actor.ID, proof)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery")
		}
		current, err := repo.FindByID(ctx, leg.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload shipment")
		}
		updated = current
		if !won {
			if current.State == enums.LegStateDelivered && current.IsBoundTo(input.Actor.ID) {
				raced = true
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "shipment changed while delivering").
				WithDetails(map[string]any{"state": current.State})
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLegDelivered,
			AggregateType: enums.AggregateDeliveryLeg,
			AggregateID:   leg.ID,
			Actor:         input.Actor.Ref(),
			Data: payloads.LegDeliveredEvent{
				LegID:           leg.ID,
				CommerceOrderID: leg.CommerceOrderID,
				CourierID:       input.Actor.ID,
				DistanceM:       proof.DistanceM,
				AccuracyM:       proof.AccuracyM,
				ValidatedAt:     proof.ValidatedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if raced {
		s.settle(ctx, updated, input.Actor)
		return delivered(updated), nil
	}

	s.metrics.Proximity(metrics.OutcomeAccepted, string(proximity.ReasonNone), check.DistanceM)
	s.metrics.Transition(string(enums.AggregateDeliveryLeg), string(enums.LegStateDelivered), metrics.OutcomeAccepted)
	s.logg.Info(s.logg.WithField(ctx, "distance_m", check.DistanceM), "delivery accepted")

	s.settle(ctx, updated, input.Actor)
	return &Result{Leg: updated, DistanceM: check.DistanceM}, nil
}

func (s *service) resolveLeg(ctx context.Context, input DeliverInput) (*models.DeliveryLeg, error) {
	var (
		leg *models.DeliveryLeg
		err error
	)
	switch {
	case input.LegID != uuid.Nil:
		leg, err = s.legs.FindByID(ctx, input.LegID)
	case input.OrderID != uuid.Nil:
		leg, err = s.legs.FindByOrderID(ctx, input.OrderID)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "leg_id or order_id is required")
	}
	if err != nil {
		if legs.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	return leg, nil
}

// geofence reads the configured tolerances, using the defaults if the config
// store is unavailable.
func (s *service) geofence(ctx context.Context) proximity.Geofence {
	cfg, err := s.rates.Get(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "global config unavailable, using default geofence")
		return proximity.GeofenceFrom(models.GlobalConfig{})
	}
	return proximity.GeofenceFrom(cfg)
}

// destination prefers the leg's own coordinates and falls back to the
// customer location stored on the linked order.
func (s *service) destination(ctx context.Context, leg *models.DeliveryLeg) *geo.Point {
	if p, ok := geo.PointFrom(leg.DestinationLat, leg.DestinationLng); ok {
		return &p
	}
	if leg.CommerceOrderID == nil {
		return nil
	}
	order, err := s.orders.FindByID(ctx, *leg.CommerceOrderID)
	if err != nil {
		s.logg.Error(ctx, "failed to load order for destination", err)
		return nil
	}
	if p, ok := geo.PointFrom(order.CustomerLat, order.CustomerLng); ok {
		return &p
	}
	return nil
}

// settle brings the linked order and the wallet up to date with a delivered
// leg. Both steps are idempotent, so a retried confirmation repairs a prior
// partial failure. Errors are logged and left for reconciliation. On a
// successful payout leg.PayoutApplied is updated so callers return what is
// stored.
func (s *service) settle(ctx context.Context, leg *models.DeliveryLeg, actor auth.Actor) {
	if leg.CommerceOrderID != nil {
		if err := s.completer.CompleteDelivery(ctx, *leg.CommerceOrderID, actor); err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, leg.CommerceOrderID.String()), "failed to complete order after delivery", err)
		}
	}
	if !leg.PayoutApplied {
		if _, err := s.wallet.ApplyPayout(ctx, leg.ID); err != nil {
			s.logg.Error(ctx, "failed to apply payout after delivery", err)
			return
		}
		leg.PayoutApplied = true
	}
}

func delivered(leg *models.DeliveryLeg) *Result {
	res := &Result{Leg: leg, AlreadyDelivered: true}
	if leg.ProofDistanceM != nil {
		res.DistanceM = *leg.ProofDistanceM
	}
	return res
}
