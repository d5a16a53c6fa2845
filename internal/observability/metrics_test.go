package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInitMetrics(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	if handler == nil {
		t.Fatal("expected handler to be non-nil")
	}

	// Smoke test: verify handler returns 200 and non-empty body
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if rr.Body.Len() == 0 {
		t.Error("handler returned empty body")
	}
}

func TestJobMetrics_AppearInScrape(t *testing.T) {
	ctx := context.Background()

	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	m, err := NewJobMetrics()
	if err != nil {
		t.Fatalf("NewJobMetrics failed: %v", err)
	}
	m.Observe(ctx, "passed", 120*time.Millisecond)
	m.Observe(ctx, "prepare-failed", 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	body := rr.Body.String()
	if !strings.Contains(body, "jobforge_jobs_total") {
		t.Errorf("expected jobforge_jobs_total in scrape output, got:\n%s", body)
	}
	if !strings.Contains(body, `outcome="passed"`) {
		t.Errorf("expected outcome label in scrape output, got:\n%s", body)
	}
}

func TestJobMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *JobMetrics
	// Must not panic when metrics are disabled.
	m.Observe(context.Background(), "passed", time.Second)
}
