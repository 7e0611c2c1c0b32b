package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

type echoContextKey struct{}

// InjectEchoContext stashes the current echo.Context on the request context
// so a PrincipalResolver constructed outside the HTTP layer (see
// EchoContextFromRequest) can recover it without internal/auth depending on
// this package.
func InjectEchoContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := context.WithValue(c.Request().Context(), echoContextKey{}, c)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// EchoContextFromRequest recovers the echo.Context stashed by
// InjectEchoContext, or nil if none was stashed.
func EchoContextFromRequest(r *http.Request) echo.Context {
	c, _ := r.Context().Value(echoContextKey{}).(echo.Context)
	return c
}
