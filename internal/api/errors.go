package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Error codes returned in ErrorBody.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeCommandInProgress  = "command_in_progress"
	CodeDeviceDisconnected = "device_disconnected"
	CodeDeviceTimeout      = "device_timeout"
	CodeDeviceError        = "device_error"
	CodeUnavailable        = "unavailable"
	CodeInternal           = "internal"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorDetail names what went wrong.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	respond(w, status, ErrorBody{
		Error:     ErrorDetail{Code: code, Message: msg},
		RequestID: middleware.GetReqID(r.Context()),
	})
}
