package api

var corsHeaders = map[string]string{
	"Content-Type":                     "application/json",
	"Access-Control-Allow-Origin":      "*",
	"Access-Control-Allow-Credentials": "false",
	"X-Requested-With":                 "*",
	"Access-Control-Allow-Headers":     "Accept,Content-Type,Authorization,X-Amz-Date,X-Api-Key,X-Amz-User-Agent,X-Requested-With,X-Amz-Security-Token",
	"Access-Control-Allow-Methods":     "OPTIONS,HEAD,GET,POST,PUT,PATCH,DELETE",
	"Access-Control-Expose-Headers":    "Authorization,X-Requested-With",
}

// CORSHeaders returns a fresh copy of the headers attached to every API response.
func CORSHeaders() map[string]string {
	out := make(map[string]string, len(corsHeaders))
	for k, v := range corsHeaders {
		out[k] = v
	}
	return out
}
