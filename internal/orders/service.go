package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/internal/auditlog"
	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/internal/pricing"
	"github.com/angelmondragon/repartos-backend/internal/stock"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
	"github.com/angelmondragon/repartos-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service drives the commerce order lifecycle. The order row is authoritative;
// its delivery leg follows as a best-effort mirror.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.CommerceOrder, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.CommerceOrder, error)
	History(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]models.StatusLogEntry, error)
	Transition(ctx context.Context, input TransitionInput) (*models.CommerceOrder, error)
	TransitionLeg(ctx context.Context, input LegTransitionInput) (*models.DeliveryLeg, error)
	ApplyLegAssignment(ctx context.Context, input AssignmentInput) error
	CompleteDelivery(ctx context.Context, orderID uuid.UUID, actor auth.Actor) error
	AttachCheckout(ctx context.Context, orderID uuid.UUID, url string) error
	ApplyPaymentUpdate(ctx context.Context, update PaymentUpdate) (bool, error)
	Reconcile(ctx context.Context, batch int) (ReconcileResult, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repo      Repository
	Legs      legs.Repository
	Shipments legs.Service
	Stock     stock.Service
	Audit     auditlog.Service
	Outbox    outbox.Emitter
	Tx        txRunner
	Rates     legs.RatesProvider
	Quoter    legs.Quoter
	Logger    *logger.Logger
	Metrics   *metrics.DomainMetrics
}

type service struct {
	repo      Repository
	legs      legs.Repository
	shipments legs.Service
	stock     stock.Service
	audit     auditlog.Service
	outbox    outbox.Emitter
	tx        txRunner
	rates     legs.RatesProvider
	quoter    legs.Quoter
	logg      *logger.Logger
	metrics   *metrics.DomainMetrics
}

// NewService validates dependencies and builds the order service.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Legs == nil:
		return nil, fmt.Errorf("legs repository required")
	case p.Shipments == nil:
		return nil, fmt.Errorf("shipments service required")
	case p.Stock == nil:
		return nil, fmt.Errorf("stock service required")
	case p.Audit == nil:
		return nil, fmt.Errorf("audit log required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Rates == nil:
		return nil, fmt.Errorf("rates provider required")
	case p.Quoter == nil:
		return nil, fmt.Errorf("delivery quoter required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      p.Repo,
		legs:      p.Legs,
		shipments: p.Shipments,
		stock:     p.Stock,
		audit:     p.Audit,
		outbox:    p.Outbox,
		tx:        p.Tx,
		rates:     p.Rates,
		quoter:    p.Quoter,
		logg:      p.Logger,
		metrics:   p.Metrics,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.CommerceOrder, error) {
	if input.Actor.Role != enums.ActorRoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers place orders")
	}
	customerID := input.CustomerID
	if customerID == uuid.Nil {
		customerID = input.Actor.ID
	}
	if customerID != input.Actor.ID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customers can only order for themselves")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}
	deliveryAddress := strings.TrimSpace(input.DeliveryAddress)
	pickupAddress := strings.TrimSpace(input.PickupAddress)
	if deliveryAddress == "" || pickupAddress == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery and pickup addresses are required")
	}

	ids, quantities, err := mergeItems(input.Items)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.FindProducts(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	merchantID := input.MerchantID
	items := make([]models.CommerceOrderItem, 0, len(ids))
	lines := make([]pricing.LineItem, 0, len(ids))
	for _, id := range ids {
		product, ok := byID[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": id})
		}
		if merchantID == uuid.Nil {
			merchantID = product.MerchantID
		}
		if product.MerchantID != merchantID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "all products must belong to the same merchant").
				WithDetails(map[string]any{"product_id": id})
		}
		items = append(items, models.CommerceOrderItem{
			ID:        uuid.New(),
			ProductID: id,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  quantities[id],
		})
		lines = append(lines, pricing.LineItem{UnitPrice: product.Price, Quantity: quantities[id]})
	}

	cfg, err := s.rates.Get(ctx)
	if err != nil {
		return nil, err
	}
	rates := pricing.RatesFrom(cfg)
	quote := s.quoter.QuoteDelivery(ctx, rates,
		pricing.Endpoint{Text: pickupAddress, Point: input.PickupPoint},
		pricing.Endpoint{Text: deliveryAddress, Point: input.DeliveryPoint},
	)
	subtotal := pricing.Subtotal(lines)
	total := subtotal + quote.Fee
	commission := pricing.ComputeCommission(subtotal, total, rates.CommissionRate, rates.CommissionBase)
	split := pricing.SplitCourierFee(quote.Fee, rates.CourierCommissionRate)
	token := legs.NewTrackingToken()

	order := &models.CommerceOrder{
		ID:               uuid.New(),
		CustomerID:       customerID,
		MerchantID:       merchantID,
		SubtotalProducts: subtotal,
		DeliveryFee:      quote.Fee,
		Total:            total,
		CommissionRate:   commission.Rate,
		CommissionBase:   commission.Base,
		CommissionAmount: commission.Amount,
		Currency:         string(enums.CurrencyARS),
		PaymentMethod:    input.PaymentMethod,
		PaymentStatus:    input.PaymentMethod.InitialStatus(),
		Status:           enums.OrderStatusCreated,
		DeliveryAddress:  deliveryAddress,
		TrackingToken:    token,
		DistanceKm:       quote.DistanceKm,
		Items:            items,
	}
	leg := &models.DeliveryLeg{
		ID:               uuid.New(),
		CommerceOrderID:  &order.ID,
		MerchantID:       merchantID,
		OriginText:       pickupAddress,
		DestinationText:  deliveryAddress,
		DistanceKm:       quote.DistanceKm,
		DeliveryPrice:    quote.Fee,
		CommissionAmount: split.Commission,
		CourierPayout:    split.Payout,
		PaymentMethod:    input.PaymentMethod.LegMethod(),
		State:            enums.LegStateWaitingMerchant,
		TrackingToken:    token,
	}
	if quote.Origin != nil {
		order.MerchantLat, order.MerchantLng = &quote.Origin.Lat, &quote.Origin.Lng
		leg.OriginLat, leg.OriginLng = &quote.Origin.Lat, &quote.Origin.Lng
	}
	if quote.Destination != nil {
		order.CustomerLat, order.CustomerLng = &quote.Destination.Lat, &quote.Destination.Lng
		leg.DestinationLat, leg.DestinationLng = &quote.Destination.Lat, &quote.Destination.Lng
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.repo.WithTx(tx)
		if err := orderRepo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := s.legs.WithTx(tx).Create(ctx, leg); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery leg")
		}
		if err := orderRepo.SetDeliveryLeg(ctx, order.ID, leg.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link delivery leg")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateCommerceOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor.Ref(),
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				CustomerID:    order.CustomerID,
				MerchantID:    order.MerchantID,
				DeliveryLegID: leg.ID,
				Total:         order.Total,
				PaymentMethod: order.PaymentMethod,
			},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLegCreated,
			AggregateType: enums.AggregateDeliveryLeg,
			AggregateID:   leg.ID,
			Actor:         input.Actor.Ref(),
			Data: payloads.LegCreatedEvent{
				LegID:           leg.ID,
				CommerceOrderID: leg.CommerceOrderID,
				MerchantID:      leg.MerchantID,
				State:           leg.State,
				DeliveryPrice:   leg.DeliveryPrice,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	order.DeliveryLegID = &leg.ID

	s.audit.Append(ctx, auditlog.Entry{
		OrderID:   order.ID,
		Status:    order.Status,
		ActorID:   input.Actor.IDPtr(),
		ActorRole: input.Actor.Role,
	})
	s.metrics.Transition(string(enums.AggregateCommerceOrder), string(order.Status), metrics.OutcomeAccepted)

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"leg_id":         leg.ID.String(),
		"total":          order.Total,
		"degraded_quote": quote.Degraded,
	})
	s.logg.Info(logCtx, "order created")
	return order, nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.CommerceOrder, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	leg, err := s.loadLeg(ctx, order)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, order, leg) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not visible to actor")
	}
	return order, nil
}

func (s *service) History(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]models.StatusLogEntry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, id)
}

// CanView reports whether actor participates in order.
func CanView(actor auth.Actor, order *models.CommerceOrder, leg *models.DeliveryLeg) bool {
	if actor.Role == enums.ActorRoleCustomer {
		return order.CustomerID == actor.ID
	}
	return CanAct(actor, order, leg)
}

// CanAct reports whether actor owns order for a status change. Customers never do.
func CanAct(actor auth.Actor, order *models.CommerceOrder, leg *models.DeliveryLeg) bool {
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return true
	case enums.ActorRoleMerchant:
		return order.MerchantID == actor.ID
	case enums.ActorRoleCourier:
		if leg != nil && leg.IsBoundTo(actor.ID) {
			return true
		}
		return order.CourierID != nil && *order.CourierID == actor.ID
	default:
		return false
	}
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.CommerceOrder, error) {
	target := input.Target
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", target))
	}
	if err := AuthorizeTarget(input.Actor.Role, target); err != nil {
		s.metrics.Transition(string(enums.AggregateCommerceOrder), string(target), metrics.OutcomeRejected)
		return nil, err
	}
	if target == enums.OrderStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeProximityRejected, "position required").
			WithDetails(map[string]any{"reason": "position_required"})
	}

	order, err := s.load(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	leg, err := s.loadLeg(ctx, order)
	if err != nil {
		return nil, err
	}
	if !CanAct(input.Actor, order, leg) {
		s.metrics.Transition(string(enums.AggregateCommerceOrder), string(target), metrics.OutcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not owned by actor")
	}
	if err := CheckReachable(input.Actor.Role, order.Status, target); err != nil {
		s.metrics.Transition(string(enums.AggregateCommerceOrder), string(target), metrics.OutcomeRejected)
		return nil, err
	}
	return s.apply(ctx, order, leg, target, input.Actor, input.Reason)
}

// apply runs side effects, writes the order conditionally on the status it was
// read with, then mirrors the leg and appends history. Callers have already
// authorized the move.
func (s *service) apply(ctx context.Context, order *models.CommerceOrder, leg *models.DeliveryLeg, target enums.OrderStatus, actor auth.Actor, reason string) (*models.CommerceOrder, error) {
	from := order.Status
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"from":       from,
		"to":         target,
		"actor_role": actor.Role,
	})

	reservedNow := false
	if from == enums.OrderStatusCreated && target != enums.OrderStatusCancelled {
		res, err := s.stock.Reserve(ctx, order.ID, stockItems(order.Items))
		if err != nil {
			s.metrics.Transition(string(enums.AggregateCommerceOrder), string(target), metrics.OutcomeRejected)
			return nil, err
		}
		reservedNow = res.Reserved
	}

	var reasonPtr *string
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		reasonPtr = &trimmed
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).CompareAndSetStatus(ctx, order.ID, from, target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently").
				WithDetails(map[string]any{"expected": from})
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateCommerceOrder,
			AggregateID:   order.ID,
			Actor:         actor.Ref(),
			Data: payloads.OrderStatusChangedEvent{
				OrderID:    order.ID,
				MerchantID: order.MerchantID,
				From:       from,
				To:         target,
				Reason:     reasonPtr,
			},
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.metrics.Transition(string(enums.AggregateCommerceOrder), string(target), metrics.OutcomeConflict)
			if reservedNow {
				s.releaseIfCancelled(logCtx, order)
			}
		}
		return nil, err
	}

	if target == enums.OrderStatusCancelled {
		if err := s.stock.Release(ctx, order.ID, stockItems(order.Items)); err != nil {
			s.logg.Error(logCtx, "stock release after cancel failed", err)
		}
	}

	updated := *order
	updated.Status = target
	if reservedNow {
		updated.StockReserved = true
	}
	if leg != nil {
		if _, err := s.mirrorLeg(ctx, &updated, leg, actor); err != nil {
			s.logg.Error(logCtx, "leg mirror failed", err)
		}
	}
	s.audit.Append(ctx, auditlog.Entry{
		OrderID:   order.ID,
		Status:    target,
		ActorID:   actor.IDPtr(),
		ActorRole: actor.Role,
		Reason:    reason,
	})
	s.metrics.Transition(string(enums.AggregateCommerceOrder), string(target), metrics.OutcomeAccepted)
	s.logg.Info(logCtx, "order transitioned")
	return &updated, nil
}

// releaseIfCancelled undoes a reservation this request made when a concurrent
// cancel won the status write.
func (s *service) releaseIfCancelled(ctx context.Context, order *models.CommerceOrder) {
	current, err := s.repo.FindByID(ctx, order.ID)
	if err != nil {
		s.logg.Error(ctx, "reload order after lost write failed", err)
		return
	}
	if current.Status != enums.OrderStatusCancelled {
		return
	}
	if err := s.stock.Release(ctx, order.ID, stockItems(order.Items)); err != nil {
		s.logg.Error(ctx, "stock release after lost write failed", err)
	}
}

// mirrorLeg moves the leg to the state matching order's status. It never moves
// a leg backwards, out of a terminal state or into entregado.
func (s *service) mirrorLeg(ctx context.Context, order *models.CommerceOrder, leg *models.DeliveryLeg, actor auth.Actor) (bool, error) {
	target, ok := LegStateFor(order.Status)
	if !ok || target == enums.LegStateDelivered || leg.State.IsTerminal() || leg.State == target {
		return false, nil
	}
	if target != enums.LegStateCancelled && !legs.IsAhead(target, leg.State) {
		return false, nil
	}
	from := leg.State
	moved := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.legs.WithTx(tx).CompareAndSetState(ctx, leg.ID, from, target)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		moved = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLegStateChanged,
			AggregateType: enums.AggregateDeliveryLeg,
			AggregateID:   leg.ID,
			Actor:         actor.Ref(),
			Data: payloads.LegStateChangedEvent{
				LegID:           leg.ID,
				CommerceOrderID: leg.CommerceOrderID,
				From:            from,
				To:              target,
			},
		})
	})
	if err != nil {
		return false, err
	}
	if moved {
		s.metrics.Transition(string(enums.AggregateDeliveryLeg), string(target), metrics.OutcomeAccepted)
	}
	return moved, nil
}

func (s *service) TransitionLeg(ctx context.Context, input LegTransitionInput) (*models.DeliveryLeg, error) {
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid shipment state %q", input.Target))
	}
	leg, err := s.legs.FindByID(ctx, input.LegID)
	if err != nil {
		if legs.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	if leg.IsStandalone() {
		return s.shipments.TransitionStandalone(ctx, input.Actor, leg, input.Target)
	}
	status, ok := OrderStatusForLeg(input.Target)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("linked shipments cannot move to %s directly", input.Target)).
			WithDetails(map[string]any{"from": leg.State, "to": input.Target})
	}
	if _, err := s.Transition(ctx, TransitionInput{
		OrderID: *leg.CommerceOrderID,
		Actor:   input.Actor,
		Target:  status,
		Reason:  input.Reason,
	}); err != nil {
		return nil, err
	}
	updated, err := s.legs.FindByID(ctx, leg.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload shipment")
	}
	return updated, nil
}

func (s *service) ApplyLegAssignment(ctx context.Context, input AssignmentInput) error {
	order, err := s.load(ctx, input.OrderID)
	if err != nil {
		return err
	}
	if err := s.repo.SetCourier(ctx, order.ID, input.CourierID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order courier")
	}
	courierID := input.CourierID
	order.CourierID = &courierID
	if order.Status.IsTerminal() || Rank(order.Status) >= Rank(enums.OrderStatusAssigned) {
		return nil
	}
	_, err = s.apply(ctx, order, nil, enums.OrderStatusAssigned, input.Actor, "courier assigned")
	return err
}

func (s *service) CompleteDelivery(ctx context.Context, orderID uuid.UUID, actor auth.Actor) error {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case enums.OrderStatusDelivered:
		return nil
	case enums.OrderStatusCancelled:
		return invalidTransition(order.Status, enums.OrderStatusDelivered)
	}
	_, err = s.apply(ctx, order, nil, enums.OrderStatusDelivered, actor, "delivery validated")
	return err
}

func (s *service) AttachCheckout(ctx context.Context, orderID uuid.UUID, url string) error {
	if err := s.repo.SetCheckoutURL(ctx, orderID, url); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout url")
	}
	return nil
}

func (s *service) ApplyPaymentUpdate(ctx context.Context, update PaymentUpdate) (bool, error) {
	if update.PaymentID == "" || !update.Status.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment id and status are required")
	}
	order, err := s.load(ctx, update.OrderID)
	if err != nil {
		return false, err
	}
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"payment_id":     update.PaymentID,
		"payment_status": update.Status,
	})
	if order.PaymentMethod != enums.PaymentMethodMPCard {
		s.logg.Warn(logCtx, "payment notification for an order not paid by card")
		return false, nil
	}

	changed := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdatePayment(ctx, order.ID, update.PaymentID, update.Status)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !ok {
			return nil
		}
		changed = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentUpdated,
			AggregateType: enums.AggregateCommerceOrder,
			AggregateID:   order.ID,
			Actor:         auth.SystemActor.Ref(),
			Data: payloads.OrderPaymentUpdatedEvent{
				OrderID:       order.ID,
				PaymentID:     update.PaymentID,
				PaymentStatus: update.Status,
			},
		})
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.logg.Info(logCtx, "order payment updated")
	}
	return changed, nil
}

// Reconcile walks every open linked order and repairs leg mirrors that fell
// behind, and orders whose leg was delivered without the order following.
func (s *service) Reconcile(ctx context.Context, batch int) (ReconcileResult, error) {
	if batch <= 0 {
		batch = 100
	}
	var (
		result ReconcileResult
		errs   error
		after  uuid.UUID
	)
	for {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		page, err := s.repo.ListOpenLinked(ctx, after, batch)
		if err != nil {
			return result, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open orders"))
		}
		for i := range page {
			result.Scanned++
			if err := s.reconcileOne(ctx, &page[i], &result); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("order %s: %w", page[i].ID, err))
			}
		}
		if len(page) < batch {
			return result, errs
		}
		after = page[len(page)-1].ID
	}
}

func (s *service) reconcileOne(ctx context.Context, order *models.CommerceOrder, result *ReconcileResult) error {
	leg, err := s.loadLeg(ctx, order)
	if err != nil || leg == nil {
		return err
	}
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"leg_id":    leg.ID.String(),
		"leg_state": leg.State,
		"status":    order.Status,
	})
	if latest, ok, err := s.audit.LatestStatus(ctx, order.ID); err == nil && ok && latest != order.Status {
		s.logg.Warn(s.logg.WithField(logCtx, "audit_status", latest), "audit history behind order status")
	}

	switch leg.State {
	case enums.LegStateDelivered:
		if _, err := s.apply(ctx, order, nil, enums.OrderStatusDelivered, auth.SystemActor, "reconciled from delivered shipment"); err != nil {
			return err
		}
		result.OrdersCompleted++
		return nil
	case enums.LegStateCancelled:
		s.logg.Warn(logCtx, "linked shipment cancelled while order is open")
		return nil
	}

	advanced, err := s.catchUpOrder(ctx, order, leg)
	if err != nil {
		return err
	}
	if advanced {
		result.OrdersAdvanced++
		s.logg.Info(logCtx, "order caught up with courier shipment")
		return nil
	}

	moved, err := s.mirrorLeg(ctx, order, leg, auth.SystemActor)
	if err != nil {
		return err
	}
	if moved {
		result.LegsAdvanced++
		s.logg.Info(logCtx, "leg mirror repaired")
	}
	return nil
}

// catchUpOrder moves an order forward to match a courier-bound leg whose
// order-side write was lost after a claim, assignment or pickup.
func (s *service) catchUpOrder(ctx context.Context, order *models.CommerceOrder, leg *models.DeliveryLeg) (bool, error) {
	if leg.CourierID == nil || order.Status.IsTerminal() {
		return false, nil
	}
	var target enums.OrderStatus
	switch leg.State {
	case enums.LegStateHeadingToPickup:
		target = enums.OrderStatusAssigned
	case enums.LegStateInTransit:
		target = enums.OrderStatusPickedUp
	default:
		return false, nil
	}
	if Rank(order.Status) >= Rank(target) {
		return false, nil
	}

	if Rank(order.Status) < Rank(enums.OrderStatusAssigned) {
		if err := s.ApplyLegAssignment(ctx, AssignmentInput{
			OrderID:   order.ID,
			CourierID: *leg.CourierID,
			Actor:     auth.SystemActor,
		}); err != nil {
			return false, err
		}
		if target == enums.OrderStatusAssigned {
			return true, nil
		}
		reloaded, err := s.load(ctx, order.ID)
		if err != nil {
			return false, err
		}
		order = reloaded
	}
	if _, err := s.apply(ctx, order, nil, target, auth.SystemActor, "reconciled from shipment state"); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.CommerceOrder, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) loadLeg(ctx context.Context, order *models.CommerceOrder) (*models.DeliveryLeg, error) {
	if order.DeliveryLegID == nil {
		return nil, nil
	}
	leg, err := s.legs.FindByID(ctx, *order.DeliveryLegID)
	if err != nil {
		if legs.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery leg")
	}
	return leg, nil
}

func mergeItems(items []ItemInput) ([]uuid.UUID, map[uuid.UUID]int, error) {
	if len(items) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	ids := make([]uuid.UUID, 0, len(items))
	quantities := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil || item.Quantity <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "items require product id and positive quantity")
		}
		if _, seen := quantities[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	return ids, quantities, nil
}

func stockItems(items []models.CommerceOrderItem) []stock.Item {
	out := make([]stock.Item, 0, len(items))
	for _, item := range items {
		out = append(out, stock.Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}
