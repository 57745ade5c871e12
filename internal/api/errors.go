// Package api holds the request, response and error shapes shared by the
// Lambda handlers and the HTTP server.
package api

import (
	"errors"
	"net/http"

	"github.com/splax/buildor/internal/service/deploy"
	"github.com/splax/buildor/internal/service/project"
	"github.com/splax/buildor/internal/service/user"
)

// Error codes returned in error bodies.
const (
	CodeSchema        = "CME01"
	CodeNotFound      = "CME02"
	CodeMethod        = "CME03"
	CodeInternal      = "ISE00"
	CodeRecordFailed  = "PDE00"
	CodeTriggerFailed = "PDE01"
	CodeRateLimited   = "RLE00"
	CodeUnauthorized  = "AUE00"
	CodeForbidden     = "AUE01"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// Classify maps a service error onto an HTTP status and error body.
func Classify(err error) (int, ErrorBody) {
	switch {
	case errors.Is(err, deploy.ErrValidation), errors.Is(err, project.ErrValidation), errors.Is(err, user.ErrValidation):
		return http.StatusBadRequest, ErrorBody{Code: CodeSchema, Message: "Schema Compliant Error", Details: err.Error()}
	case errors.Is(err, deploy.ErrNotFound), errors.Is(err, project.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Code: CodeNotFound, Message: "Not Found Error", Details: err.Error()}
	case errors.Is(err, deploy.ErrTriggerFailed):
		return http.StatusBadGateway, ErrorBody{Code: CodeTriggerFailed, Message: "Build Trigger Error", Details: "build could not be started"}
	case errors.Is(err, deploy.ErrTransientStore):
		return http.StatusInternalServerError, ErrorBody{Code: CodeRecordFailed, Message: "Create Project Deployment Error", Details: "deployment record could not be stored"}
	default:
		return http.StatusInternalServerError, Internal()
	}
}

// Internal is the body returned for unexpected failures. Details are never exposed.
func Internal() ErrorBody {
	return ErrorBody{Code: CodeInternal, Message: "Internal Server Error", Details: "unexpected error"}
}

// Schema reports a malformed request body or parameter.
func Schema(details string) ErrorBody {
	return ErrorBody{Code: CodeSchema, Message: "Schema Compliant Error", Details: details}
}
