package controllers

import (
	"net/http"

	"github.com/angelmondragon/repartos-backend/api/responses"
	"github.com/angelmondragon/repartos-backend/api/validators"
	"github.com/angelmondragon/repartos-backend/internal/globalconfig"
	"github.com/angelmondragon/repartos-backend/internal/wallet"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

type adjustmentRequest struct {
	Amount int64  `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type updateConfigRequest struct {
	CommissionRate        *float64 `json:"commission_rate" validate:"omitempty,gte=0,lte=1"`
	CommissionBase        *string  `json:"commission_base" validate:"omitempty,oneof=subtotal_products total"`
	DeliveryBaseFee       *int64   `json:"delivery_base_fee" validate:"omitempty,gte=0"`
	DeliveryPerKm         *int64   `json:"delivery_per_km" validate:"omitempty,gte=0"`
	GeofenceRadiusM       *float64 `json:"geofence_radius_m" validate:"omitempty,gt=0"`
	GeofenceMaxAccuracyM  *float64 `json:"geofence_max_accuracy_m" validate:"omitempty,gt=0"`
	CourierCommissionRate *float64 `json:"courier_commission_rate" validate:"omitempty,gte=0,lte=1"`
}

// AdminWalletAdjust posts a manual credit or debit to a courier wallet.
func AdminWalletAdjust(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		courierID, ok := pathID(w, r, logg, "courierId")
		if !ok {
			return
		}
		var req adjustmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tx, err := svc.AdminAdjust(r.Context(), wallet.AdjustInput{
			Actor:     actor,
			CourierID: courierID,
			Amount:    req.Amount,
			Reason:    validators.SanitizeString(req.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionResponse(tx))
	}
}

// AdminConfigGet returns the live platform tunables.
func AdminConfigGet(svc globalconfig.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := svc.Get(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newConfigResponse(cfg))
	}
}

// AdminConfigUpdate applies a partial update; omitted fields keep their value.
func AdminConfigUpdate(svc globalconfig.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		var req updateConfigRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := globalconfig.UpdateInput{
			ActorID:               actor.ID,
			CommissionRate:        req.CommissionRate,
			DeliveryBaseFee:       req.DeliveryBaseFee,
			DeliveryPerKm:         req.DeliveryPerKm,
			GeofenceRadiusM:       req.GeofenceRadiusM,
			GeofenceMaxAccuracyM:  req.GeofenceMaxAccuracyM,
			CourierCommissionRate: req.CourierCommissionRate,
		}
		if req.CommissionBase != nil {
			base := enums.CommissionBase(*req.CommissionBase)
			input.CommissionBase = &base
		}
		cfg, err := svc.Update(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newConfigResponse(cfg))
	}
}
