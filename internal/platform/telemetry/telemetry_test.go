package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistry_HasRuntimeCollectors(t *testing.T) {
	reg := NewRegistry()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "go_goroutines" {
			found = true
		}
	}
	if !found {
		t.Error("expected go_goroutines from the Go collector")
	}
}

func TestHTTPMetrics_RecordsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.POST("/assign-patients", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"results": []any{}})
	})
	e.GET("/facilities/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "facility not found")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/assign-patients"},
		{http.MethodPost, "/assign-patients"},
		{http.MethodGet, "/facilities/CHU-X"},
		{http.MethodGet, "/boom"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(r.method, r.path, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "/assign-patients", "200")); got != 2 {
		t.Errorf("expected 2 assign requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/facilities/:id", "404")); got != 1 {
		t.Errorf("expected 1 facility 404 by route pattern, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Errorf("expected 1 internal error, got %v", got)
	}
	if got := testutil.ToFloat64(m.active); got != 0 {
		t.Errorf("expected no active requests, got %v", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 3 {
		t.Errorf("expected 3 duration series, got %d", n)
	}
}

func TestHandler_ServesExposition(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg)
	m.requests.WithLabelValues("GET", "/health", "200").Inc()

	e := echo.New()
	e.GET("/metrics", Handler(reg))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `http_server_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("expected request counter in exposition, got:\n%s", body)
	}
}
