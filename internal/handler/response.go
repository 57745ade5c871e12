// Package handler adapts the lifecycle services to AWS Lambda events.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/splax/buildor/internal/api"
)

func respond(status int, payload any) events.APIGatewayProxyResponse {
	body := "{}"
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			body = string(raw)
		} else {
			status = http.StatusInternalServerError
			raw, _ := json.Marshal(api.Internal())
			body = string(raw)
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: api.CORSHeaders(), Body: body}
}

func respondError(status int, body api.ErrorBody) events.APIGatewayProxyResponse {
	return respond(status, body)
}
