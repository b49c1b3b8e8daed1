package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/api/responses"
	"github.com/angelmondragon/repartos-backend/api/validators"
	"github.com/angelmondragon/repartos-backend/internal/legs"
	"github.com/angelmondragon/repartos-backend/internal/orders"
	"github.com/angelmondragon/repartos-backend/internal/payments"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

type createShipmentRequest struct {
	MerchantID      *uuid.UUID    `json:"merchant_id"`
	OriginText      string        `json:"origin_text" validate:"required,max=500"`
	DestinationText string        `json:"destination_text" validate:"required,max=500"`
	Origin          *pointRequest `json:"origin"`
	Destination     *pointRequest `json:"destination"`
	Vehicle         string        `json:"vehicle" validate:"required,oneof=bici moto auto"`
	PaymentMethod   string        `json:"payment_method" validate:"required,oneof=cash_delivery transfer_delivery mp_card merchant_pays"`
}

// ShipmentCreate posts a standalone shipment that starts in the search pool.
// Merchants post for themselves; admins name the merchant.
func ShipmentCreate(svc legs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		var req createShipmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		merchantID := actor.ID
		if actor.IsAdmin() {
			if req.MerchantID == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "merchant_id is required"))
				return
			}
			merchantID = *req.MerchantID
		}

		leg, err := svc.CreateStandalone(r.Context(), legs.CreateShipmentInput{
			Actor:           actor,
			MerchantID:      merchantID,
			OriginText:      validators.SanitizeString(req.OriginText, 500),
			DestinationText: validators.SanitizeString(req.DestinationText, 500),
			Origin:          req.Origin.point(),
			Destination:     req.Destination.point(),
			Vehicle:         enums.Vehicle(req.Vehicle),
			PaymentMethod:   enums.LegPaymentMethod(req.PaymentMethod),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newLegResponse(leg))
	}
}

// ShipmentDetail returns a leg to its participants or an admin.
func ShipmentDetail(svc legs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		legID, ok := pathID(w, r, logg, "legId")
		if !ok {
			return
		}
		leg, err := svc.Get(r.Context(), actor, legID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLegResponse(leg))
	}
}

// ShipmentTransition moves a leg. Linked legs are routed through their order.
func ShipmentTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		legID, ok := pathID(w, r, logg, "legId")
		if !ok {
			return
		}
		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		leg, err := svc.TransitionLeg(r.Context(), orders.LegTransitionInput{
			LegID:  legID,
			Actor:  actor,
			Target: enums.LegState(req.Status),
			Reason: validators.SanitizeString(req.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLegResponse(leg))
	}
}

// ShipmentPayment returns a MercadoPago checkout URL for a merchant-paid shipment.
func ShipmentPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		legID, ok := pathID(w, r, logg, "legId")
		if !ok {
			return
		}
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "online payments are not configured"))
			return
		}
		checkout, err := svc.CreateShipmentCheckout(r.Context(), actor, legID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, checkout)
	}
}
