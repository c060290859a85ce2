package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chu/allocator/internal/config"
	"github.com/chu/allocator/internal/domain/facility"
	"github.com/chu/allocator/internal/platform/db"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:               "test",
		LogLevel:          "info",
		FacilitiesFile:    "facilities.yaml",
		DefaultWaitWindow: 25,
		CORSOrigins:       []string{"http://localhost:3000"},
		RateLimitRPS:      1000,
		RateLimitBurst:    1000,
		RequestTimeout:    5 * time.Second,
		BodyLimit:         "1M",
	}
}

func testRegistry(t *testing.T) *facility.Registry {
	t.Helper()
	reg, err := facility.NewRegistry([]facility.Facility{
		{ID: "CHU-A", Name: "A", Capacity: facility.Resources{1, 1, 1, 1}},
		{ID: "CHU-B", Name: "B", Capacity: facility.Resources{1, 1, 1, 2}},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func newTestServer(t *testing.T, cfg *config.Config) *server {
	t.Helper()
	srv, err := newServer(cfg, zerolog.Nop(), testRegistry(t), nil)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	return srv
}

func do(srv *server, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestServer_AssignPatients(t *testing.T) {
	srv := newTestServer(t, testConfig())

	body := `{"day":1,"patients":[
		{"id":"P1","esi":2,"pathologie":"pneumonie","needs":{"lit":1},"wait_window":25},
		{"id":"P2","esi":1,"pathologie":"infarctus","needs":{"lit":1},"wait_window":10},
		{"id":"P3","esi":9,"pathologie":"fracture","needs":{"lit":1}}
	]}`
	rec := do(srv, http.MethodPost, "/assign-patients", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected security headers")
	}

	var resp struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	// P2 is more severe, so it takes the single ward bed at CHU-A.
	if r := resp.Results[1]; r["id"] != "P2" || r["statut"] != "Assigned" || r["chu_initial"] != "CHU-A" {
		t.Errorf("unexpected P2 result: %v", r)
	}
	if r := resp.Results[0]; r["statut"] != "Transferred" || r["chu_transfere"] != "CHU-B" {
		t.Errorf("unexpected P1 result: %v", r)
	}
	if r := resp.Results[2]; r["statut"] != "Rejected" {
		t.Errorf("unexpected P3 result: %v", r)
	}

	usage := do(srv, http.MethodGet, "/facilities/CHU-A/usage?day=1", "")
	if usage.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", usage.Code)
	}
	var u facility.Usage
	if err := json.Unmarshal(usage.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode usage: %v", err)
	}
	if u.Allocated[facility.WardBed] != 1 || u.Available[facility.WardBed] != 0 {
		t.Errorf("unexpected CHU-A usage: %+v", u)
	}
}

func TestServer_RejectsNonBatchBody(t *testing.T) {
	srv := newTestServer(t, testConfig())
	rec := do(srv, http.MethodPost, "/assign-patients", `[1,2,3]`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestServer_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.BodyLimit = "64"
	srv := newTestServer(t, cfg)

	body := `{"day":0,"patients":[` + strings.Repeat(`{"id":"P","esi":1},`, 20) + `{"id":"Q","esi":1}]}`
	rec := do(srv, http.MethodPost, "/assign-patients", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestServer_HealthAndFacilities(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := do(srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health map[string]any
	json.Unmarshal(rec.Body.Bytes(), &health)
	if health["status"] != "ok" || health["facilities"] != float64(2) || health["default_home"] != "CHU-A" {
		t.Errorf("unexpected health: %v", health)
	}

	if rec := do(srv, http.MethodGet, "/health/db", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected /health/db to be absent without a database, got %d", rec.Code)
	}

	rec = do(srv, http.MethodGet, "/facilities?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Data  []facility.Facility `json:"data"`
		Total int                 `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Total != 2 || len(list.Data) != 1 || list.Data[0].ID != "CHU-A" {
		t.Errorf("unexpected facility page: %+v", list)
	}

	if rec := do(srv, http.MethodGet, "/facilities/CHU-Z", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t, testConfig())
	do(srv, http.MethodPost, "/assign-patients", `{"day":0,"patients":[{"id":"P1","esi":1,"needs":{"lit":1}}]}`)

	rec := do(srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`allocator_placements_total{status="Assigned"} 1`,
		`allocator_facility_capacity{facility="CHU-B",resource="lit"} 2`,
		`allocator_facility_allocated{day="0",facility="CHU-A",resource="lit"} 1`,
		`http_server_requests_total{method="POST",route="/assign-patients",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	srv := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/assign-patients", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected allowed origin, got %q", got)
	}
}

func TestNewServer_UnknownDefaultFacility(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultFacility = "CHU-NOWHERE"
	if _, err := newServer(cfg, zerolog.Nop(), testRegistry(t), nil); err == nil {
		t.Error("expected error for unknown default facility")
	}
}

func TestCatalogFor_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "facilities.yaml")
	yaml := "facilities:\n  - id: CHU-X\n    name: X\n    capacity: {lit_rea: 1, respirateur: 0, scanner: 0, lit: 3}\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := testConfig()
	cfg.FacilitiesFile = path

	reg, err := facility.LoadRegistry(context.Background(), catalogFor(cfg, nil))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	f, ok := reg.Lookup("CHU-X")
	if !ok || f.Capacity[facility.WardBed] != 3 {
		t.Errorf("unexpected facility: %+v", f)
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.LogLevel = "warn"
	logger := newLogger(cfg, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestPrintTables(t *testing.T) {
	var buf bytes.Buffer
	printFacilities(&buf, []facility.Facility{{ID: "CHU-A", Name: "A", Capacity: facility.Resources{4, 3, 2, 30}}})
	if !strings.Contains(buf.String(), "lit_rea") || !strings.Contains(buf.String(), "CHU-A") {
		t.Errorf("unexpected facility table: %s", buf.String())
	}

	buf.Reset()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	printMigrations(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_facility.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied") || !strings.Contains(out, "2026-03-01 12:00:00") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected migration table: %s", out)
	}
}
