package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dataforge/platform/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// errorEnvelope is the uniform error response shape:
// {error, message, statusCode, details?}.
type errorEnvelope struct {
	Error      string         `json:"error"`
	Message    string         `json:"message"`
	StatusCode int            `json:"statusCode"`
	Details    map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		writeJSON(w, appErr.HTTPStatus(), errorEnvelope{
			Error:      string(appErr.Kind),
			Message:    appErr.Message,
			StatusCode: appErr.HTTPStatus(),
			Details:    appErr.Details,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{
		Error:      "INTERNAL_ERROR",
		Message:    err.Error(),
		StatusCode: http.StatusInternalServerError,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.BadRequest("invalid json body: %v", err)
	}
	return nil
}
