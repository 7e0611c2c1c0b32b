package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/real-staging-ai/logbroker/internal/auth"
	"github.com/real-staging-ai/logbroker/internal/broker"
	"github.com/real-staging-ai/logbroker/internal/logging"
)

// Handler holds the dependencies shared by every route.
type Handler struct {
	broker *broker.Broker
}

// subscribe implements GET /api/logs/stream. It always returns 200 once the
// principal resolves; malformed or unauthorized channels are silently
// dropped rather than rejected.
func (h *Handler) subscribe(c echo.Context) error {
	principal, err := h.broker.Resolver().Resolve(c.Request())
	var unauth auth.ErrUnauthenticated
	if errors.As(err, &unauth) {
		return writeError(c, http.StatusUnauthorized, "unauthenticated")
	}
	if err != nil {
		return writeError(c, http.StatusUnauthorized, "unauthenticated")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache, no-transform")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	h.broker.HandleSubscribe(c.Request().Context(), res, principal, requestedChannels(c))
	return nil
}

// requestedChannels accepts both repeated (?channels=a&channels=b) and
// comma-separated (?channels=a,b) query forms.
func requestedChannels(c echo.Context) []string {
	var out []string
	for _, raw := range c.QueryParams()["channels"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// publishBody is the JSON body of POST /api/logs/publish and POST /test/logs.
type publishBody struct {
	Service     string          `json:"service"`
	WorkspaceID string          `json:"workspace_id"`
	WorkflowID  string          `json:"workflow_id"`
	FunctionID  string          `json:"function_id"`
	LogData     json.RawMessage `json:"logData"`
}

// publish implements POST /api/logs/publish.
func (h *Handler) publish(c echo.Context) error {
	return h.doPublish(c)
}

// testPublish implements POST /test/logs: a convenience alias for publish,
// gated by configuration at the route-registration layer.
func (h *Handler) testPublish(c echo.Context) error {
	return h.doPublish(c)
}

func (h *Handler) doPublish(c echo.Context) error {
	var body publishBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, http.StatusBadRequest, "bad_request")
	}

	result, err := h.broker.HandlePublish(c.Request().Context(), broker.PublishRequest{
		ServiceToken: c.Request().Header.Get("X-Service-Token"),
		Service:      body.Service,
		WorkspaceID:  body.WorkspaceID,
		WorkflowID:   body.WorkflowID,
		FunctionID:   body.FunctionID,
		LogData:      []byte(body.LogData),
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]any{
			"success":   true,
			"channel":   result.Channel,
			"delivered": result.Delivered,
			"timestamp": result.PublishedAt.UnixMilli(),
		})
	case errors.Is(err, broker.ErrBadRequest):
		return writeError(c, http.StatusBadRequest, "bad_request")
	case errors.Is(err, broker.ErrUnauthorizedSvc):
		return writeError(c, http.StatusForbidden, "unauthorized_service")
	case errors.Is(err, broker.ErrRateLimited):
		return writeError(c, http.StatusTooManyRequests, "rate_limited")
	default:
		logging.Default().Error(c.Request().Context(), "publish failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "internal")
	}
}

// health implements GET /health.
func (h *Handler) health(c echo.Context) error {
	doc := h.broker.Health()
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"connections": doc.Connections,
		"channels":    doc.Channels,
		"uptime":      doc.Uptime.Milliseconds(),
		"stats": map[string]any{
			"connectionsAccepted": doc.Stats.ConnectionsAccepted,
			"publishesAccepted":   doc.Stats.PublishesAccepted,
			"delivered":           doc.Stats.Delivered,
			"dropped":             doc.Stats.Dropped,
		},
	})
}

// stats implements GET /admin/logs/stats.
func (h *Handler) stats(c echo.Context) error {
	channelStats := h.broker.Stats()
	resp := make([]map[string]any, 0, len(channelStats))
	for _, cs := range channelStats {
		subs := make([]map[string]any, 0, len(cs.Subscribers))
		for _, s := range cs.Subscribers {
			subs = append(subs, map[string]any{
				"connectionId": s.ConnectionID,
				"userId":       s.UserID,
				"connectedAt":  s.ConnectedAt.Format(time.RFC3339),
				"logsSent":     s.LogsSent,
			})
		}
		resp = append(resp, map[string]any{
			"channel":         cs.Channel,
			"subscriberCount": cs.SubscriberCount,
			"subscribers":     subs,
		})
	}

	doc := h.broker.Health()
	return c.JSON(http.StatusOK, map[string]any{
		"channels": resp,
		"stats": map[string]any{
			"connectionsAccepted": doc.Stats.ConnectionsAccepted,
			"publishesAccepted":   doc.Stats.PublishesAccepted,
			"delivered":           doc.Stats.Delivered,
			"dropped":             doc.Stats.Dropped,
		},
	})
}
