package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/real-staging-ai/logbroker/internal/registry"
)

// PrincipalResolver resolves an incoming request to the caller's
// authenticated Principal, or an error if resolution fails.
type PrincipalResolver interface {
	Resolve(r *http.Request) (registry.Principal, error)
}

// ErrUnauthenticated is returned by a PrincipalResolver when it cannot
// establish an identity for the request.
type ErrUnauthenticated struct{ Reason string }

func (e ErrUnauthenticated) Error() string { return "unauthenticated: " + e.Reason }

// HeaderPrincipalResolver reads X-User-Id for identity and X-Workspaces for
// workspace membership. It holds no secrets and performs no network calls;
// it exists to keep the broker runnable without a real identity provider
// wired in.
type HeaderPrincipalResolver struct{}

func NewHeaderPrincipalResolver() *HeaderPrincipalResolver {
	return &HeaderPrincipalResolver{}
}

func (HeaderPrincipalResolver) Resolve(r *http.Request) (registry.Principal, error) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		return registry.Principal{}, ErrUnauthenticated{Reason: "missing X-User-Id header"}
	}

	workspaces := make(map[string]struct{})
	for _, w := range strings.Split(r.Header.Get("X-Workspaces"), ",") {
		w = strings.TrimSpace(w)
		if w != "" {
			workspaces[w] = struct{}{}
		}
	}

	return registry.Principal{UserID: userID, Workspaces: workspaces}, nil
}

// JWTPrincipalResolver resolves a Principal from a JWT already validated by
// JWTMiddleware (or OptionalJWTMiddleware) earlier in the chain. The user id
// comes from the "sub" claim; workspace membership comes from an optional
// "workspaces" claim (a JSON array of strings).
type JWTPrincipalResolver struct {
	echoContext func(r *http.Request) echo.Context
}

// NewJWTPrincipalResolver builds a resolver that reads the echo.Context
// associated with r via lookup. The broker's HTTP layer supplies lookup
// because *http.Request alone does not carry the echo.Context.
func NewJWTPrincipalResolver(lookup func(r *http.Request) echo.Context) *JWTPrincipalResolver {
	return &JWTPrincipalResolver{echoContext: lookup}
}

func (j *JWTPrincipalResolver) Resolve(r *http.Request) (registry.Principal, error) {
	c := j.echoContext(r)
	if c == nil {
		return registry.Principal{}, ErrUnauthenticated{Reason: "no request context"}
	}

	claims, err := claimsFromContext(c)
	if err != nil {
		return registry.Principal{}, ErrUnauthenticated{Reason: err.Error()}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return registry.Principal{}, ErrUnauthenticated{Reason: "sub claim not found or not a string"}
	}

	workspaces := make(map[string]struct{})
	if raw, ok := claims["workspaces"].([]interface{}); ok {
		for _, w := range raw {
			if s, ok := w.(string); ok && s != "" {
				workspaces[s] = struct{}{}
			}
		}
	}

	return registry.Principal{UserID: sub, Workspaces: workspaces}, nil
}

// FallbackPrincipalResolver tries primary first and falls back to fallback
// when primary fails to resolve an identity. It exists so that a deployment
// running OptionalJWTMiddleware still accepts the header-based identity on
// requests that carry no bearer token at all (a request carrying an invalid
// token is already rejected by the middleware before either resolver runs).
type FallbackPrincipalResolver struct {
	primary  PrincipalResolver
	fallback PrincipalResolver
}

// NewFallbackPrincipalResolver builds a resolver that tries primary, then
// fallback, in order.
func NewFallbackPrincipalResolver(primary, fallback PrincipalResolver) *FallbackPrincipalResolver {
	return &FallbackPrincipalResolver{primary: primary, fallback: fallback}
}

func (f *FallbackPrincipalResolver) Resolve(r *http.Request) (registry.Principal, error) {
	p, err := f.primary.Resolve(r)
	if err == nil {
		return p, nil
	}
	return f.fallback.Resolve(r)
}
