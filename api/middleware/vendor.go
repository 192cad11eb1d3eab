package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/bazaar-backend/api/responses"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
)

type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, ownerID uuid.UUID) (*models.Vendor, error)
}

// VendorProfile provisions the vendor profile of vendor callers on first use.
// Other roles pass through untouched.
func VendorProfile(vendors ProfileEnsurer, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID, role, ok := ActorFromContext(ctx)
			if !ok || role != enums.ActorRoleVendor {
				next.ServeHTTP(w, r)
				return
			}
			if vendors == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "vendor service unavailable"))
				return
			}

			if _, err := vendors.EnsureProfile(ctx, userID); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if logg != nil {
				ctx = logg.WithVendorID(ctx, userID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
