// Package httpapi wires the broker's HTTP surface: the subscribe stream,
// the publish endpoint, the admin/health documents, and Prometheus metrics.
package httpapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/real-staging-ai/logbroker/internal/auth"
	"github.com/real-staging-ai/logbroker/internal/broker"
	"github.com/real-staging-ai/logbroker/internal/metrics"
)

// NewServer builds and wires an Echo instance around b. allowedOrigins
// configures CORS for the subscribe and publish endpoints; pass []string{"*"}
// to allow any origin. When auth0 is non-nil, /api/logs/stream additionally
// accepts a validated JWT (falling back to the header-based resolver when
// no token is supplied). allowTestPublish gates whether POST /test/logs is
// registered at all.
func NewServer(b *broker.Broker, allowedOrigins []string, auth0 *auth.Auth0Config, allowTestPublish bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Service-Token", "X-User-Id", "X-Workspaces"},
	}))
	e.Use(InjectEchoContext)

	h := &Handler{broker: b}

	logs := e.Group("/api/logs")
	if auth0 != nil {
		logs.GET("/stream", h.subscribe, auth.OptionalJWTMiddleware(auth0))
	} else {
		logs.GET("/stream", h.subscribe)
	}
	logs.POST("/publish", h.publish)

	if allowTestPublish {
		e.POST("/test/logs", h.testPublish)
	}
	e.GET("/health", h.health)
	e.GET("/admin/logs/stats", h.stats)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return e
}

// errorBody is the JSON shape of every non-2xx response: a single
// machine-readable error code, never an internal detail.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(c echo.Context, status int, code string) error {
	return c.JSON(status, errorBody{Error: code})
}
