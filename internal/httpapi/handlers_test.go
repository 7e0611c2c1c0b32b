package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/real-staging-ai/logbroker/internal/auth"
	"github.com/real-staging-ai/logbroker/internal/broker"
	"github.com/real-staging-ai/logbroker/internal/ratelimit"
	"github.com/real-staging-ai/logbroker/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, allowTestPublish bool, tokens map[string]string) *echo.Echo {
	reg := registry.New(4)
	b := broker.New(reg, auth.NewHeaderPrincipalResolver(), auth.NewStaticServiceAuthenticator(tokens), ratelimit.New(1000, 1000), nil, time.Hour)
	return NewServer(b, []string{"*"}, nil, allowTestPublish)
}

func TestPublish_BadRequestOnMissingLogData(t *testing.T) {
	e := newTestServer(t, false, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/logs/publish", strings.NewReader(`{"service":"etl","workspace_id":"w1"}`))
	req.Header.Set(echoHeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad_request")
}

func TestPublish_UnauthorizedServiceReturns403(t *testing.T) {
	e := newTestServer(t, false, map[string]string{"tok": "etl"})
	req := httptest.NewRequest(http.MethodPost, "/api/logs/publish", strings.NewReader(`{"service":"etl","workspace_id":"w1","logData":{"a":1}}`))
	req.Header.Set(echoHeaderContentType, "application/json")
	req.Header.Set("X-Service-Token", "wrong")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized_service")
}

func TestPublish_SuccessReturnsDeliveredCount(t *testing.T) {
	e := newTestServer(t, false, map[string]string{"tok": "etl"})
	req := httptest.NewRequest(http.MethodPost, "/api/logs/publish", strings.NewReader(`{"service":"etl","workspace_id":"w1","logData":{"msg":"hi"}}`))
	req.Header.Set(echoHeaderContentType, "application/json")
	req.Header.Set("X-Service-Token", "tok")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "logs:etl:w1", body["channel"])
	assert.Equal(t, float64(0), body["delivered"])
}

func TestTestPublishRoute_NotRegisteredUnlessAllowed(t *testing.T) {
	e := newTestServer(t, false, nil)
	req := httptest.NewRequest(http.MethodPost, "/test/logs", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTestPublishRoute_RegisteredWhenAllowed(t *testing.T) {
	e := newTestServer(t, true, map[string]string{"tok": "etl"})
	req := httptest.NewRequest(http.MethodPost, "/test/logs", strings.NewReader(`{"service":"etl","workspace_id":"w1","logData":{"a":1}}`))
	req.Header.Set(echoHeaderContentType, "application/json")
	req.Header.Set("X-Service-Token", "tok")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubscribe_UnauthenticatedWithoutUserIDHeader(t *testing.T) {
	e := newTestServer(t, false, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/logs/stream", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth_ReportsZeroConnectionsInitially(t *testing.T) {
	e := newTestServer(t, false, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["connections"])
}

func TestStats_ReportsEmptyChannelListInitially(t *testing.T) {
	e := newTestServer(t, false, nil)
	req := httptest.NewRequest(http.MethodGet, "/admin/logs/stats", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	channels, ok := body["channels"].([]any)
	require.True(t, ok)
	assert.Empty(t, channels)
}

const echoHeaderContentType = "Content-Type"
