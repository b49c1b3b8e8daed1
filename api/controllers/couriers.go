package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/api/responses"
	"github.com/angelmondragon/repartos-backend/api/validators"
	"github.com/angelmondragon/repartos-backend/internal/delivery"
	"github.com/angelmondragon/repartos-backend/internal/dispatch"
	"github.com/angelmondragon/repartos-backend/internal/tracking"
	"github.com/angelmondragon/repartos-backend/internal/wallet"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

type deliverRequest struct {
	LegID      *uuid.UUID `json:"leg_id"`
	OrderID    *uuid.UUID `json:"order_id"`
	Lat        *float64   `json:"lat" validate:"required"`
	Lng        *float64   `json:"lng" validate:"required"`
	AccuracyM  *float64   `json:"accuracy_m" validate:"required,gte=0"`
	ReportedAt *time.Time `json:"reported_at"`
}

type deliverResponse struct {
	Leg              legResponse `json:"leg"`
	DistanceM        float64     `json:"distance_m"`
	AlreadyDelivered bool        `json:"already_delivered"`
}

type claimRequest struct {
	LegID uuid.UUID `json:"leg_id" validate:"required"`
}

type positionRequest struct {
	LegID      uuid.UUID  `json:"leg_id" validate:"required"`
	Lat        *float64   `json:"lat" validate:"required"`
	Lng        *float64   `json:"lng" validate:"required"`
	AccuracyM  float64    `json:"accuracy_m" validate:"gte=0"`
	ReportedAt *time.Time `json:"reported_at"`
}

type withdrawRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type transactionPageResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

func optionalID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func reportedAt(t *time.Time) time.Time {
	if t == nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

// CourierDeliver confirms a delivery from the courier's reported position.
// Rejections carry the computed distance in the error details.
func CourierDeliver(svc delivery.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		if _, ok := courierPath(w, r, logg, actor, false); !ok {
			return
		}
		var req deliverRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.LegID == nil && req.OrderID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "leg_id or order_id is required"))
			return
		}

		result, err := svc.Deliver(r.Context(), delivery.DeliverInput{
			Actor:      actor,
			LegID:      optionalID(req.LegID),
			OrderID:    optionalID(req.OrderID),
			Lat:        *req.Lat,
			Lng:        *req.Lng,
			AccuracyM:  *req.AccuracyM,
			ReportedAt: reportedAt(req.ReportedAt),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, deliverResponse{
			Leg:              newLegResponse(result.Leg),
			DistanceM:        result.DistanceM,
			AlreadyDelivered: result.AlreadyDelivered,
		})
	}
}

// CourierClaim lets a courier take an unassigned leg.
func CourierClaim(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		if _, ok := courierPath(w, r, logg, actor, false); !ok {
			return
		}
		var req claimRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		leg, err := svc.Claim(r.Context(), actor, req.LegID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLegResponse(leg))
	}
}

// CourierPosition records a live position for public tracking.
func CourierPosition(svc tracking.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		if _, ok := courierPath(w, r, logg, actor, false); !ok {
			return
		}
		var req positionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.ReportPosition(r.Context(), tracking.PositionInput{
			Actor:      actor,
			LegID:      req.LegID,
			Lat:        *req.Lat,
			Lng:        *req.Lng,
			AccuracyM:  req.AccuracyM,
			ReportedAt: reportedAt(req.ReportedAt),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// CourierWallet returns the courier's balance summary.
func CourierWallet(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		courierID, ok := courierPath(w, r, logg, actor, true)
		if !ok {
			return
		}
		wlt, err := svc.Get(r.Context(), actor, courierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWalletResponse(wlt))
	}
}

// CourierWalletTransactions pages through ledger history, newest first.
func CourierWalletTransactions(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		courierID, ok := courierPath(w, r, logg, actor, true)
		if !ok {
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListTransactions(r.Context(), actor, courierID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := transactionPageResponse{
			Transactions: make([]transactionResponse, 0, len(page.Transactions)),
			NextCursor:   page.NextCursor,
		}
		for i := range page.Transactions {
			resp.Transactions = append(resp.Transactions, newTransactionResponse(&page.Transactions[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

// CourierWithdraw moves available balance into a pending withdrawal.
func CourierWithdraw(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		courierID, ok := courierPath(w, r, logg, actor, true)
		if !ok {
			return
		}
		var req withdrawRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tx, err := svc.Withdraw(r.Context(), actor, courierID, req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionResponse(tx))
	}
}
