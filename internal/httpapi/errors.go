package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"facegate/internal/manager"
	"facegate/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps an outcome kind onto an HTTP status code.
func statusFor(kind manager.OutcomeKind) int {
	switch kind {
	case manager.OutcomeSuccess:
		return http.StatusOK
	case manager.OutcomeClientError:
		return http.StatusBadRequest
	case manager.OutcomeBusy, manager.OutcomeUnavailable:
		return http.StatusServiceUnavailable
	case manager.OutcomeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeOutcome writes the payload of a successful outcome or a JSON error,
// and returns the status written.
func writeOutcome(w http.ResponseWriter, out manager.Outcome) int {
	status := statusFor(out.Kind)
	if out.Kind == manager.OutcomeSuccess {
		writeJSON(w, status, out.Payload)
		return status
	}
	if out.Kind == manager.OutcomeBusy {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		IncrementBackpressure("busy")
	}
	msg := out.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSONError(w, status, out.Reason, msg)
	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, reason, msg string) {
	writeJSON(w, status, types.ErrorResponse{Success: false, Error: msg, Reason: reason, Code: status})
}
