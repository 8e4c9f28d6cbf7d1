package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/mqtt-session/internal/session"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in Error.Code.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotConnected = "not_connected"
	ErrCodeEngine       = "engine_error"
	ErrCodeInternal     = "internal_error"
)

// sessionErrors maps session failures to a status and code. Anything not
// listed is reported as an engine failure.
var sessionErrors = []struct {
	target error
	status int
	code   string
}{
	{session.ErrInvalidArgument, http.StatusBadRequest, ErrCodeBadRequest},
	{session.ErrNotConnected, http.StatusConflict, ErrCodeNotConnected},
	{session.ErrClosed, http.StatusConflict, ErrCodeNotConnected},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // The client may already be gone
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSessionError answers with the status registered for err in
// sessionErrors, or 502 when err came from the engine.
func writeSessionError(w http.ResponseWriter, err error) {
	for _, m := range sessionErrors {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeError(w, http.StatusBadGateway, ErrCodeEngine, err.Error())
}
