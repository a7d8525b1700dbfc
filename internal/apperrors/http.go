package apperrors

import (
	"errors"
	"net/http"
)

// statusMap pairs each sentinel with its HTTP status. The first match wins,
// so more specific kinds come first.
var statusMap = []struct {
	kind   error
	status int
}{
	{ErrActionNotFound, http.StatusBadRequest},
	{ErrRender, http.StatusBadRequest},
	{ErrValidation, http.StatusBadRequest},
	{ErrNotFound, http.StatusNotFound},
	{ErrConflict, http.StatusConflict},
	{ErrTransfer, http.StatusBadGateway},
	{ErrRemoteUnavailable, http.StatusServiceUnavailable},
}

// HTTPStatus returns the status code for err, or 500 when no kind matches.
func HTTPStatus(err error) int {
	for _, m := range statusMap {
		if errors.Is(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// Body returns the JSON error document written for err. A missing action
// script is reported under "message"; every other failure under "error".
func Body(err error) map[string]string {
	if errors.Is(err, ErrActionNotFound) {
		return map[string]string{"message": err.Error()}
	}
	return map[string]string{"error": err.Error()}
}
