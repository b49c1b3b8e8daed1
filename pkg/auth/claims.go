package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

var (
	ErrMissingSubject = errors.New("token is missing subject")
	ErrTokenRole      = errors.New("token role not allowed")
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID        uuid.UUID
	Role          enums.ActorRole
	EmailVerified bool
	JTI           string
}

// AccessTokenClaims is the token the identity provider issues. Older tokens
// carry the user only in sub.
type AccessTokenClaims struct {
	UserID        uuid.UUID       `json:"user_id"`
	Role          enums.ActorRole `json:"role"`
	EmailVerified bool            `json:"email_verified"`
	jwt.RegisteredClaims
}

// Validate runs after the registered-claim checks during parsing.
func (c *AccessTokenClaims) Validate() error {
	if !c.Role.IsTokenRole() {
		return fmt.Errorf("%w: %q", ErrTokenRole, c.Role)
	}
	if c.UserID == uuid.Nil && c.Subject == "" {
		return ErrMissingSubject
	}
	return nil
}

// actorID prefers user_id and falls back to sub.
func (c *AccessTokenClaims) actorID() (uuid.UUID, error) {
	if c.UserID != uuid.Nil {
		return c.UserID, nil
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: sub is not a user id", ErrMissingSubject)
	}
	return id, nil
}
