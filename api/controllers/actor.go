package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/api/middleware"
	"github.com/angelmondragon/repartos-backend/api/responses"
	"github.com/angelmondragon/repartos-backend/api/validators"
	"github.com/angelmondragon/repartos-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

func requireActor(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (auth.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
		return auth.Actor{}, false
	}
	return actor, true
}

// courierPath resolves the {courierId} path segment. Couriers may only act on
// themselves; admins pass when allowAdmin is set.
func courierPath(w http.ResponseWriter, r *http.Request, logg *logger.Logger, actor auth.Actor, allowAdmin bool) (uuid.UUID, bool) {
	courierID, err := validators.ParseUUIDParam(r, "courierId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	if actor.ID == courierID || (allowAdmin && actor.IsAdmin()) {
		return courierID, true
	}
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "courier id does not match the authenticated user"))
	return uuid.Nil, false
}

func pathID(w http.ResponseWriter, r *http.Request, logg *logger.Logger, name string) (uuid.UUID, bool) {
	id, err := validators.ParseUUIDParam(r, name)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	return id, true
}
