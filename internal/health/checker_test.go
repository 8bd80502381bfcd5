package health_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Matschula1987/heiba-rms-sub001/internal/health"
	"github.com/prometheus/client_golang/prometheus"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(_ context.Context) error { return p.err }

func newChecker(p health.Pinger) *health.Checker {
	// Fresh registry per test so repeated gauge registration never collides.
	return health.NewChecker(p, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
}

func TestLiveness_AlwaysUp(t *testing.T) {
	checker := newChecker(&fakePinger{err: errors.New("db down")})

	result := checker.Liveness(context.Background())
	if result.Status != "up" {
		t.Errorf("liveness status = %q, want up", result.Status)
	}
}

func TestReadiness_UpWhenDatabaseReachable(t *testing.T) {
	checker := newChecker(&fakePinger{})

	result := checker.Readiness(context.Background())
	if result.Status != "up" {
		t.Errorf("readiness status = %q, want up", result.Status)
	}
	if check := result.Checks["postgres"]; check.Status != "up" {
		t.Errorf("postgres check = %+v, want up", check)
	}
}

func TestReadiness_DownWhenDatabaseUnreachable(t *testing.T) {
	checker := newChecker(&fakePinger{err: errors.New("connection refused")})

	result := checker.Readiness(context.Background())
	if result.Status != "down" {
		t.Errorf("readiness status = %q, want down", result.Status)
	}
	check := result.Checks["postgres"]
	if check.Status != "down" || check.Error == "" {
		t.Errorf("postgres check = %+v, want down with error text", check)
	}
}
