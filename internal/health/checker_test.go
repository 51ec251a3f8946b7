package health

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestCheckAggregation(t *testing.T) {
	h := NewChecker(Config{ServiceName: "plc-link", ServiceVersion: "test"})
	h.AddCheck("ok", CheckFunc(func(ctx context.Context) error { return nil }))

	resp := h.Check(context.Background())
	if resp.Status != StatusHealthy {
		t.Fatalf("status = %q, want healthy", resp.Status)
	}

	h.AddCheck("plc", CheckFunc(func(ctx context.Context) error {
		return Degraded(errors.New("link down, reconnecting"))
	}))
	resp = h.Check(context.Background())
	if resp.Status != StatusDegraded {
		t.Fatalf("status = %q, want degraded", resp.Status)
	}
	if resp.Checks["plc"].Status != StatusDegraded {
		t.Errorf("plc check status = %q, want degraded", resp.Checks["plc"].Status)
	}

	h.AddCheck("broker", CheckFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	resp = h.Check(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Fatalf("status = %q, want unhealthy", resp.Status)
	}
}

func TestDegradedKeepsReadinessGreen(t *testing.T) {
	h := NewChecker(Config{ServiceName: "plc-link"})
	h.AddCheck("plc", CheckFunc(func(ctx context.Context) error {
		return Degraded(errors.New("link down"))
	}))

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != 200 {
		t.Errorf("readiness status = %d, want 200 for degraded", rec.Code)
	}

	h.AddCheck("broker", CheckFunc(func(ctx context.Context) error {
		return errors.New("refused")
	}))
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != 503 {
		t.Errorf("readiness status = %d, want 503 for unhealthy", rec.Code)
	}
}
