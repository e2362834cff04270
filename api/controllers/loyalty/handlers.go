package loyalty

import (
	"net/http"

	"github.com/vetcare/clinic-finance/api/controllers/dto"
	"github.com/vetcare/clinic-finance/api/middleware"
	"github.com/vetcare/clinic-finance/api/responses"
	"github.com/vetcare/clinic-finance/api/validators"
	internalloyalty "github.com/vetcare/clinic-finance/internal/loyalty"
	pkgerrors "github.com/vetcare/clinic-finance/pkg/errors"
	"github.com/vetcare/clinic-finance/pkg/logger"
)

// Me returns the caller's points and tier.
func Me(svc internalloyalty.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loyalty service unavailable"))
			return
		}

		actor, err := middleware.RequireActor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.Get(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, account)
	}
}

// UpdateTier sets a tier by hand. Points are left untouched.
func UpdateTier(svc internalloyalty.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loyalty service unavailable"))
			return
		}

		accountID, err := validators.ParseUUIDParam(r, "loyaltyId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body dto.UpdateTierRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.UpdateTier(r.Context(), accountID, body.Tier)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, account)
	}
}
