package requestctx

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazaar-backend/api/middleware"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
)

// Actor returns the authenticated caller of the request.
func Actor(r *http.Request) (orders.Actor, error) {
	userID, role, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return orders.Actor{UserID: userID, Role: role}, nil
}

// UserID returns the authenticated caller's id.
func UserID(r *http.Request) (uuid.UUID, error) {
	actor, err := Actor(r)
	if err != nil {
		return uuid.Nil, err
	}
	return actor.UserID, nil
}
