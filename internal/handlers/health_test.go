package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/vinuvisthara/api/internal/domain"
	"github.com/vinuvisthara/api/internal/services"
)

type stubSystemService struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["commit_sha"] != "abc123" {
		t.Fatalf("expected commit abc123, got %v", body["commit_sha"])
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyzDegradedStillReady(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	svc := &stubSystemService{
		report: domain.SystemHealthReport{
			Status:      domain.HealthStatusDegraded,
			Uptime:      time.Minute,
			GeneratedAt: now,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
				"carrier":   {Status: domain.HealthStatusDegraded, Detail: "timeout", CheckedAt: now},
			},
		},
	}
	handlers := NewHealthHandlers(WithHealthSystemService(svc), WithHealthClock(func() time.Time { return now }))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status    string `json:"status"`
			LatencyMS int64  `json:"latency_ms"`
		} `json:"checks"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", body.Status)
	}
	if body.Checks["firestore"].LatencyMS != 10 {
		t.Fatalf("expected firestore latency 10ms, got %d", body.Checks["firestore"].LatencyMS)
	}
	if len(body.Details) != 1 || body.Details[0] != "carrier: timeout" {
		t.Fatalf("expected carrier detail, got %v", body.Details)
	}
}

func TestHealthHandlersReadyzFailure(t *testing.T) {
	svc := &stubSystemService{
		report: domain.SystemHealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusError, Detail: "unavailable"},
			},
		},
	}
	handlers := NewHealthHandlers(WithHealthSystemService(svc))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

var _ services.SystemService = (*stubSystemService)(nil)
