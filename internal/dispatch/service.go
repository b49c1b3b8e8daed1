package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/internal/orders"
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

const (
	kindClaim  = "claim"
	kindAssign = "assign"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderAssigner records a courier binding on the linked commerce order.
type OrderAssigner interface {
	ApplyLegAssignment(ctx context.Context, input orders.AssignmentInput) error
}

// Service binds couriers to delivery legs.
type Service interface {
	Claim(ctx context.Context, actor auth.Actor, legID uuid.UUID) (*models.DeliveryLeg, error)
	Assign(ctx context.Context, actor auth.Actor, legID, courierID uuid.UUID) (*models.DeliveryLeg, error)
	ListAvailable(ctx context.Context, actor auth.Actor, params pagination.Params) (*ListResult, error)
}

// ListResult is one page of claimable legs.
type ListResult struct {
	Legs       []models.DeliveryLeg
	NextCursor string
}

type service struct {
	legs    legs.Repository
	orders  OrderAssigner
	tx      txRunner
	outbox  outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.DomainMetrics
	now     func() time.Time
}

// NewService wires dispatch.
func NewService(repo legs.Repository, assigner OrderAssigner, tx txRunner, emitter outbox.Emitter, logg *logger.Logger, m *metrics.DomainMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("legs repository required")
	}
	if assigner == nil {
		return nil, fmt.Errorf("order assigner required")
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
	return &service{
		legs:    repo,
		orders:  assigner,
		tx:      tx,
		outbox:  emitter,
		logg:    logg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Claim(ctx context.Context, actor auth.Actor, legID uuid.UUID) (*models.DeliveryLeg, error) {
	if actor.Role != enums.ActorRoleCourier {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only couriers claim shipments")
	}
	at := s.now()
	var claimed *models.DeliveryLeg
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.legs.WithTx(tx)
		ok, err := repo.Claim(ctx, legID, actor.ID, at)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim shipment")
		}
		current, err := repo.FindByID(ctx, legID)
		if err != nil {
			if legs.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
		}
		if !ok {
			return claimRejection(current)
		}
		claimed = current
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLegAssigned,
			AggregateType: enums.AggregateDeliveryLeg,
			AggregateID:   current.ID,
			Actor:         actor.Ref(),
			Data: payloads.LegAssignedEvent{
				LegID:           current.ID,
				CommerceOrderID: current.CommerceOrderID,
				CourierID:       actor.ID,
			},
		})
	})
	if err != nil {
		s.metrics.Claim(kindClaim, outcomeFor(err))
		return nil, err
	}
	s.metrics.Claim(kindClaim, metrics.OutcomeAccepted)

	logCtx := s.logg.WithFields(s.logg.WithLegID(ctx, legID.String()), map[string]any{"courier_id": actor.ID.String()})
	s.logg.Info(logCtx, "shipment claimed")
	s.syncOrder(logCtx, claimed, actor.ID, actor)
	return claimed, nil
}

// claimRejection explains a lost claim from the leg as it stands now.
func claimRejection(leg *models.DeliveryLeg) error {
	details := map[string]any{"leg_id": leg.ID, "state": leg.State}
	switch {
	case leg.CourierID != nil:
		return pkgerrors.New(pkgerrors.CodeConflict, "shipment already claimed").WithDetails(details)
	case !leg.State.IsClaimable():
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("shipment in %s cannot be claimed", leg.State)).WithDetails(details)
	default:
		return pkgerrors.New(pkgerrors.CodeConflict, "shipment changed concurrently").WithDetails(details)
	}
}

func (s *service) Assign(ctx context.Context, actor auth.Actor, legID, courierID uuid.UUID) (*models.DeliveryLeg, error) {
	if !actor.Privileged() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins assign couriers")
	}
	if courierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "courier_id is required")
	}
	at := s.now()
	var assigned *models.DeliveryLeg
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.legs.WithTx(tx)
		before, err := repo.FindByID(ctx, legID)
		if err != nil {
			if legs.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
		}
		ok, err := repo.Assign(ctx, legID, courierID, at)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign shipment")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("shipment in %s cannot be reassigned", before.State)).
				WithDetails(map[string]any{"leg_id": legID, "state": before.State})
		}
		after, err := repo.FindByID(ctx, legID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload shipment")
		}
		assigned = after
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLegAssigned,
			AggregateType: enums.AggregateDeliveryLeg,
			AggregateID:   legID,
			Actor:         actor.Ref(),
			Data: payloads.LegAssignedEvent{
				LegID:           legID,
				CommerceOrderID: after.CommerceOrderID,
				CourierID:       courierID,
				PreviousCourier: before.CourierID,
				Override:        true,
			},
		})
	})
	if err != nil {
		s.metrics.Claim(kindAssign, outcomeFor(err))
		return nil, err
	}
	s.metrics.Claim(kindAssign, metrics.OutcomeAccepted)

	logCtx := s.logg.WithFields(s.logg.WithLegID(ctx, legID.String()), map[string]any{
		"courier_id": courierID.String(),
		"admin_id":   actor.ID.String(),
	})
	s.logg.Info(logCtx, "shipment assigned")
	s.syncOrder(logCtx, assigned, courierID, actor)
	return assigned, nil
}

// syncOrder mirrors the binding onto the linked order. Failures are logged; the
// reconciliation job repairs them.
func (s *service) syncOrder(ctx context.Context, leg *models.DeliveryLeg, courierID uuid.UUID, actor auth.Actor) {
	if leg == nil || leg.IsStandalone() {
		return
	}
	err := s.orders.ApplyLegAssignment(ctx, orders.AssignmentInput{
		OrderID:   *leg.CommerceOrderID,
		CourierID: courierID,
		Actor:     actor,
	})
	if err != nil {
		s.logg.Error(ctx, "order assignment mirror failed", err)
	}
}

func (s *service) ListAvailable(ctx context.Context, actor auth.Actor, params pagination.Params) (*ListResult, error) {
	if actor.Role != enums.ActorRoleCourier && !actor.Privileged() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only couriers browse available shipments")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.legs.ListAvailable(ctx, pagination.Params{Limit: params.Limit, Cursor: params.Cursor})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list available shipments")
	}
	result := &ListResult{}
	result.Legs, result.NextCursor = pagination.Trim(rows, params.Limit, legCursor)
	return result, nil
}

func legCursor(leg models.DeliveryLeg) pagination.Cursor {
	return pagination.Cursor{CreatedAt: leg.CreatedAt, ID: leg.ID}
}

func outcomeFor(err error) string {
	if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		return metrics.OutcomeConflict
	}
	return metrics.OutcomeRejected
}
