package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/splax/buildor/internal/api"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	for k, v := range api.CORSHeaders() {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error envelope.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, api.ErrorBody{Code: code, Message: http.StatusText(status), Details: msg})
}

// writeFailure maps a service error onto the error envelope.
func (r *Router) writeFailure(w http.ResponseWriter, req *http.Request, err error) {
	status, body := api.Classify(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}
