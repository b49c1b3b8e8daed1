package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/api/responses"
	"github.com/angelmondragon/repartos-backend/api/validators"
	"github.com/angelmondragon/repartos-backend/internal/dispatch"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

type legPageResponse struct {
	Legs       []legResponse `json:"legs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type assignRequest struct {
	LegID     uuid.UUID `json:"leg_id" validate:"required"`
	CourierID uuid.UUID `json:"courier_id" validate:"required"`
}

// DispatchAvailable lists legs a courier may claim, oldest first.
func DispatchAvailable(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListAvailable(r.Context(), actor, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := legPageResponse{Legs: make([]legResponse, 0, len(page.Legs)), NextCursor: page.NextCursor}
		for i := range page.Legs {
			resp.Legs = append(resp.Legs, newLegResponse(&page.Legs[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

// AdminDispatchAssign binds a courier to a leg on an admin's behalf.
func AdminDispatchAssign(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		var req assignRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		leg, err := svc.Assign(r.Context(), actor, req.LegID, req.CourierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newLegResponse(leg))
	}
}
