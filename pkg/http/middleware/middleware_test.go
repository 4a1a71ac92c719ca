package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalEngine/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(e *echo.Echo, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRecoverReturns500(t *testing.T) {
	var buf bytes.Buffer
	l, err := logger.NewWriter(&buf, "debug")
	require.NoError(t, err)

	e := echo.New()
	e.Use(Recover(l))
	e.GET("/boom", func(echo.Context) error { panic("kaboom") })

	rec := serve(e, http.MethodGet, "/boom", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "kaboom")
	assert.Contains(t, buf.String(), "/boom")
}

func TestRequestLoggingReportsServerErrors(t *testing.T) {
	var buf bytes.Buffer
	l, err := logger.NewWriter(&buf, "info")
	require.NoError(t, err)

	e := echo.New()
	e.Use(RequestLogging(l, time.Hour))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/fail", func(echo.Context) error { return echo.NewHTTPError(http.StatusBadGateway) })

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/ok", nil).Code)
	assert.Empty(t, buf.String())

	assert.Equal(t, http.StatusBadGateway, serve(e, http.MethodGet, "/fail", nil).Code)
	assert.Contains(t, buf.String(), "http request failed")
	assert.Contains(t, buf.String(), `"status":502`)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := echo.New()
	e.Use(Metrics(reg))
	e.GET("/api/signals/history/:strategyId", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	serve(e, http.MethodGet, "/api/signals/history/a", nil)
	serve(e, http.MethodGet, "/api/signals/history/b", nil)

	expected := `
# HELP http_requests_total Total number of HTTP requests
# TYPE http_requests_total counter
http_requests_total{method="GET",route="/api/signals/history/:strategyId",status="200"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "http_requests_total"))
}

func TestCORSPreflight(t *testing.T) {
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins: []string{"https://desk.example"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := serve(e, http.MethodOptions, "/x", map[string]string{echo.HeaderOrigin: "https://desk.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://desk.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "GET, POST", rec.Header().Get(echo.HeaderAccessControlAllowMethods))

	rec = serve(e, http.MethodGet, "/x", map[string]string{echo.HeaderOrigin: "https://other.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
