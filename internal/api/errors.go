package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pipsignal/backend/internal/domain"
	"github.com/pipsignal/backend/pkg/response"
	"github.com/pipsignal/backend/pkg/validator"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// writeError maps domain errors to envelope responses. Anything unrecognised is logged and
// reported as "failed to <action>".
func writeError(w http.ResponseWriter, logger *zap.Logger, err error, action string) {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve):
		response.ValidationFailed(w, ve.Error())
	case errors.Is(err, domain.ErrBadRequest):
		response.BadRequest(w, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "notification not found")
	case errors.Is(err, domain.ErrUnauthorized):
		response.Unauthorized(w, "not authenticated")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, "forbidden")
	default:
		logger.Error("failed to "+action, zap.Error(err))
		response.InternalError(w, "failed to "+action)
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}
