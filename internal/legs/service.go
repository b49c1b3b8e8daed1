package legs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/internal/pricing"
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

// RatesProvider returns the current platform tunables.
type RatesProvider interface {
	Get(ctx context.Context) (models.GlobalConfig, error)
}

// Quoter prices a delivery between two endpoints.
type Quoter interface {
	QuoteDelivery(ctx context.Context, rates pricing.Rates, origin, destination pricing.Endpoint) pricing.DeliveryQuote
}

// Service owns standalone shipments and leg reads.
type Service interface {
	CreateStandalone(ctx context.Context, input CreateShipmentInput) (*models.DeliveryLeg, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.DeliveryLeg, error)
	TransitionStandalone(ctx context.Context, actor auth.Actor, leg *models.DeliveryLeg, target enums.LegState) (*models.DeliveryLeg, error)
	AttachCheckout(ctx context.Context, legID uuid.UUID, url string) error
	ApplyPaymentUpdate(ctx context.Context, update PaymentUpdate) (bool, error)
}

// PaymentUpdate is a resolved gateway notification for a merchant-paid shipment.
type PaymentUpdate struct {
	LegID     uuid.UUID
	PaymentID string
	Status    enums.PaymentStatus
}

// CreateShipmentInput describes a merchant-posted shipment with no commerce order.
type CreateShipmentInput struct {
	Actor           auth.Actor
	MerchantID      uuid.UUID
	OriginText      string
	DestinationText string
	Origin          *geo.Point
	Destination     *geo.Point
	Vehicle         enums.Vehicle
	PaymentMethod   enums.LegPaymentMethod
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outbox.Emitter
	rates   RatesProvider
	quoter  Quoter
	logg    *logger.Logger
	metrics *metrics.DomainMetrics
}

// NewService wires the legs service.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, rates RatesProvider, quoter Quoter, logg *logger.Logger, m *metrics.DomainMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("legs repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if rates == nil {
		return nil, fmt.Errorf("rates provider required")
	}
	if quoter == nil {
		return nil, fmt.Errorf("delivery quoter required")
	}
	return &service{repo: repo, tx: tx, outbox: emitter, rates: rates, quoter: quoter, logg: logg, metrics: m}, nil
}

// NewTrackingToken returns an opaque, URL-safe public token.
func NewTrackingToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *service) CreateStandalone(ctx context.Context, input CreateShipmentInput) (*models.DeliveryLeg, error) {
	merchantID := input.MerchantID
	switch input.Actor.Role {
	case enums.ActorRoleMerchant:
		if merchantID == uuid.Nil {
			merchantID = input.Actor.ID
		}
		if merchantID != input.Actor.ID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "merchants can only post their own shipments")
		}
	case enums.ActorRoleAdmin:
		if merchantID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant_id is required")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot post shipments")
	}
	if strings.TrimSpace(input.OriginText) == "" || strings.TrimSpace(input.DestinationText) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "origin and destination are required")
	}
	vehicle := input.Vehicle
	if vehicle == "" {
		vehicle = enums.VehicleMotorcycle
	}
	if !vehicle.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid vehicle %q", input.Vehicle))
	}
	method := input.PaymentMethod
	if method == "" {
		method = enums.LegPaymentMerchantPays
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}

	cfg, err := s.rates.Get(ctx)
	if err != nil {
		return nil, err
	}
	rates := pricing.RatesFrom(cfg)
	quote := s.quoter.QuoteDelivery(ctx, rates,
		pricing.Endpoint{Text: input.OriginText, Point: input.Origin},
		pricing.Endpoint{Text: input.DestinationText, Point: input.Destination},
	)
	price := pricing.ApplyVehicle(quote.Fee, vehicle)
	split := pricing.SplitCourierFee(price, rates.CourierCommissionRate)

	leg := &models.DeliveryLeg{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		OriginText:       strings.TrimSpace(input.OriginText),
		DestinationText:  strings.TrimSpace(input.DestinationText),
		DistanceKm:       quote.DistanceKm,
		Vehicle:          &vehicle,
		DeliveryPrice:    price,
		CommissionAmount: split.Commission,
		CourierPayout:    split.Payout,
		PaymentMethod:    method,
		State:            enums.LegStateSearching,
		TrackingToken:    NewTrackingToken(),
	}
	if quote.Origin != nil {
		leg.OriginLat, leg.OriginLng = &quote.Origin.Lat, &quote.Origin.Lng
	}
	if quote.Destination != nil {
		leg.DestinationLat, leg.DestinationLng = &quote.Destination.Lat, &quote.Destination.Lng
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, leg); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLegCreated,
			AggregateType: enums.AggregateDeliveryLeg,
			AggregateID:   leg.ID,
			Actor:         input.Actor.Ref(),
			Data: payloads.LegCreatedEvent{
				LegID:         leg.ID,
				MerchantID:    leg.MerchantID,
				State:         leg.State,
				DeliveryPrice: leg.DeliveryPrice,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"leg_id": leg.ID.String(), "degraded_quote": quote.Degraded})
		s.logg.Info(logCtx, "standalone shipment created")
	}
	return leg, nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*models.DeliveryLeg, error) {
	leg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	if !CanView(actor, leg) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "shipment not visible to actor")
	}
	return leg, nil
}

// CanView reports whether actor may read leg. Couriers also see unclaimed legs they could claim.
func CanView(actor auth.Actor, leg *models.DeliveryLeg) bool {
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return true
	case enums.ActorRoleMerchant:
		return leg.MerchantID == actor.ID
	case enums.ActorRoleCourier:
		if leg.IsBoundTo(actor.ID) {
			return true
		}
		return leg.CourierID == nil && leg.State.IsClaimable()
	default:
		return false
	}
}

// CanAct reports whether actor owns leg for a state change.
func CanAct(actor auth.Actor, leg *models.DeliveryLeg) bool {
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return true
	case enums.ActorRoleMerchant:
		return leg.MerchantID == actor.ID
	case enums.ActorRoleCourier:
		return leg.IsBoundTo(actor.ID)
	default:
		return false
	}
}

func (s *service) TransitionStandalone(ctx context.Context, actor auth.Actor, leg *models.DeliveryLeg, target enums.LegState) (*models.DeliveryLeg, error) {
	if leg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
	}
	if !leg.IsStandalone() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "linked shipments follow their order")
	}
	if err := AuthorizeTarget(actor.Role, target); err != nil {
		s.metrics.Transition(string(enums.AggregateDeliveryLeg), string(target), metrics.OutcomeRejected)
		return nil, err
	}
	if !CanAct(actor, leg) {
		s.metrics.Transition(string(enums.AggregateDeliveryLeg), string(target), metrics.OutcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "shipment not owned by actor")
	}
	if target == enums.LegStateDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeProximityRejected, "position required").
			WithDetails(map[string]any{"reason": "position_required"})
	}
	if err := CheckReachable(actor.Role, leg.State, target); err != nil {
		s.metrics.Transition(string(enums.AggregateDeliveryLeg), string(target), metrics.OutcomeRejected)
		return nil, err
	}

	from := leg.State
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).CompareAndSetState(ctx, leg.ID, from, target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment state")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "shipment changed concurrently")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLegStateChanged,
			AggregateType: enums.AggregateDeliveryLeg,
			AggregateID:   leg.ID,
			Actor:         actor.Ref(),
			Data: payloads.LegStateChangedEvent{
				LegID: leg.ID,
				From:  from,
				To:    target,
			},
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.metrics.Transition(string(enums.AggregateDeliveryLeg), string(target), metrics.OutcomeConflict)
		}
		return nil, err
	}
	s.metrics.Transition(string(enums.AggregateDeliveryLeg), string(target), metrics.OutcomeAccepted)

	updated := *leg
	updated.State = target
	updated.UpdatedAt = time.Now().UTC()
	return &updated, nil
}

func (s *service) AttachCheckout(ctx context.Context, legID uuid.UUID, url string) error {
	if err := s.repo.SetCheckout(ctx, legID, url); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store shipment checkout")
	}
	return nil
}

// ApplyPaymentUpdate records the gateway status on a merchant-paid shipment.
// Notifications for other payment methods are ignored.
func (s *service) ApplyPaymentUpdate(ctx context.Context, update PaymentUpdate) (bool, error) {
	if update.PaymentID == "" || !update.Status.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment id and status are required")
	}
	leg, err := s.repo.FindByID(ctx, update.LegID)
	if err != nil {
		if IsNotFound(err) {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	if leg.PaymentMethod != enums.LegPaymentMerchantPays {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithLegID(ctx, leg.ID.String()), "payment notification for a shipment the merchant does not pay")
		}
		return false, nil
	}

	changed := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdatePayment(ctx, leg.ID, update.PaymentID, update.Status)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment payment")
		}
		if !ok {
			return nil
		}
		changed = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLegPaymentUpdated,
			AggregateType: enums.AggregateDeliveryLeg,
			AggregateID:   leg.ID,
			Actor:         auth.SystemActor.Ref(),
			Data: payloads.LegPaymentUpdatedEvent{
				LegID:         leg.ID,
				MerchantID:    leg.MerchantID,
				PaymentID:     update.PaymentID,
				PaymentStatus: update.Status,
			},
		})
	})
	if err != nil {
		return false, err
	}
	if changed && s.logg != nil {
		s.logg.Info(s.logg.WithFields(s.logg.WithLegID(ctx, leg.ID.String()), map[string]any{
			"payment_id":     update.PaymentID,
			"payment_status": update.Status,
		}), "shipment payment updated")
	}
	return changed, nil
}
