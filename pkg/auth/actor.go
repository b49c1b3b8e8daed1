package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
)

// Actor is the authenticated principal a domain operation runs as.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

// SystemActor is used by background repairs.
var SystemActor = Actor{Role: enums.ActorRoleSystem}

// ActorFromPayload converts verified token claims into an Actor.
func ActorFromPayload(p *AccessTokenPayload) Actor {
	if p == nil {
		return Actor{}
	}
	return Actor{ID: p.UserID, Role: p.Role}
}

// IsAdmin reports whether the actor bypasses ownership checks.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.ActorRoleAdmin
}

// IsSystem reports whether the actor is an internal job.
func (a Actor) IsSystem() bool {
	return a.Role == enums.ActorRoleSystem
}

// Privileged covers admins and internal jobs.
func (a Actor) Privileged() bool {
	return a.IsAdmin() || a.IsSystem()
}

// IDPtr returns the actor id, or nil for the system actor.
func (a Actor) IDPtr() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

// Ref builds the outbox actor reference.
func (a Actor) Ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.IDPtr(), Role: a.Role}
}
