package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/splax/buildor/internal/api"
	jwtpkg "github.com/splax/buildor/pkg/jwt"
)

// caller is the authenticated principal attached to a request context.
type caller struct {
	UserID   string
	CanWrite bool
}

type callerKey struct{}

var (
	errNoCredentials  = errors.New("no bearer token")
	errMalformedToken = errors.New("authorization header is not a bearer token")
)

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth admits requests carrying a valid token. Mutating methods also need
// the write scope. With no signing secret configured every request is admitted.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.jwtSecret == "" {
			next(w, req)
			return
		}
		token, err := credentials(req)
		if err != nil {
			r.logger.Warn("request rejected", "path", req.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "authentication required")
			return
		}
		claims, err := r.signer.Verify(token)
		if err != nil {
			r.logger.Warn("token rejected", "path", req.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "authentication failed")
			return
		}
		who := caller{UserID: claims.Subject, CanWrite: claims.Allows(jwtpkg.ScopeWrite)}
		if mutating(req.Method) && !who.CanWrite {
			writeError(w, http.StatusForbidden, api.CodeForbidden, "token lacks "+jwtpkg.ScopeWrite)
			return
		}
		ctx := context.WithValue(req.Context(), callerKey{}, who)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// credentials reads the bearer token. Stream routes may pass it as access_token
// since browsers cannot set headers on websocket upgrades or EventSource.
func credentials(req *http.Request) (string, error) {
	if header := strings.TrimSpace(req.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", errMalformedToken
		}
		return token, nil
	}
	if isStreamPath(req.URL.Path) {
		if token := strings.TrimSpace(req.URL.Query().Get("access_token")); token != "" {
			return token, nil
		}
	}
	return "", errNoCredentials
}

func callerFrom(ctx context.Context) (caller, bool) {
	who, ok := ctx.Value(callerKey{}).(caller)
	return who, ok
}

func isStreamPath(path string) bool {
	return path == routeDeploymentsWS || path == routeDeploymentsSSE
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
