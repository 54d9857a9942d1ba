package httputil

import (
	"net/http"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/contextkeys"
	"github.com/platinummonkey/retailops/pkg/observability"
)

const internalErrorMessage = "internal server error"

// WriteAppError maps err onto the error taxonomy and writes the response.
// Errors that are not *apperr.Error are logged in full and reported as a
// generic 500.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context())
	resp := ErrorResponse{RequestID: contextkeys.GetRequestID(r.Context())}

	appErr, ok := apperr.As(err)
	if !ok {
		logger.WithError(err).Error("unhandled error at handler boundary")
		resp.Error = internalErrorMessage
		WriteJSON(w, http.StatusInternalServerError, resp)
		return
	}

	switch appErr.Kind {
	case apperr.KindInternal:
		logger.WithError(err).Error("internal error at handler boundary")
		resp.Error = internalErrorMessage
		if appErr.Public {
			resp.Error = appErr.Message
		}
	case apperr.KindSagaCompensationFailure:
		resp.Error = appErr.Message
		resp.Details = appErr.Support
		resp.OrphanIDs = appErr.OrphanIDs
		if appErr.OrphanResource == "store" && len(appErr.OrphanIDs) > 0 {
			resp.StoreID = appErr.OrphanIDs[0]
		}
	default:
		resp.Error = appErr.Message
		resp.Fields = appErr.Fields
	}

	WriteJSON(w, appErr.Status(), resp)
}
