package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	domainErrors "github.com/davidleathers/dependable-auction-exchange-backend/internal/domain/errors"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeError maps an error to its HTTP status and JSON body. Unknown errors
// become opaque 500s; the real cause goes to the log, not the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *domainErrors.AppError
	if !errors.As(err, &appErr) {
		logger.ErrorContext(r.Context(), "unhandled error",
			"path", r.URL.Path,
			"error", err,
		)
		appErr = domainErrors.NewInternalError("An internal error occurred")
	}

	if appErr.StatusCode >= 500 {
		logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"code", appErr.Code,
			"error", appErr,
		)
	}

	writeJSON(w, appErr.StatusCode, errorBody{
		Error: errorDetail{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
