package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/bazaar-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	Email  string
	Name   string
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by clients. Tokens are
// minted by the account service; this service only verifies them.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   enums.ActorRole `json:"role"`
	Email  string          `json:"email,omitempty"`
	Name   string          `json:"name,omitempty"`
	jwt.RegisteredClaims
}
