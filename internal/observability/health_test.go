package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PositionVault/internal/observability"
)

// ============================================================================
// Test: Liveness and Readiness
// ============================================================================

func TestLiveness_AlwaysOK(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"alive"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestReadiness_FollowsFlagAndChecks(t *testing.T) {
	h := observability.NewHealthChecker()

	probe := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec
	}

	if rec := probe(); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	h.SetReady(true)
	if rec := probe(); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when ready, got %d", rec.Code)
	}

	h.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec := probe()
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing check, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("failing check not reported: %s", rec.Body.String())
	}
}
