package tests

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/clinicore/session-coordinator/pkg/logger"
)

func TestInit_ProdZap_JSONOutput(t *testing.T) {
	cfg := logger.Config{
		Service:    "demo",
		Version:    "v0.0.1",
		InstanceID: "test-instance",
		Env:        logger.EnvProd,
		Backend:    logger.BackendZap,
		Level:      slog.LevelInfo,
	}

	out := captureStdOut(func() {
		logger.Init(cfg)
		slog.Info("Hello world")
	})

	if !strings.Contains(out, "{") || !strings.Contains(out, "}") {
		t.Fatalf("expected JSON output in prod/zap, got: %s", out)
	}
	if !strings.Contains(out, "Hello world") {
		t.Fatalf("message missing: %s", out)
	}
	if !strings.Contains(out, `"service"`) || !strings.Contains(out, "demo") {
		t.Fatalf("service attr missing: %s", out)
	}
	if !strings.Contains(out, "test-instance") {
		t.Fatalf("instance id missing: %s", out)
	}
}

func TestInit_DefaultsBackendFromEnv(t *testing.T) {
	out := captureStdOut(func() {
		logger.Init(logger.Config{Service: "demo", Env: logger.EnvProd})
		slog.Info("backend check")
	})

	// prod without an explicit backend picks zap, i.e. JSON.
	if !strings.Contains(out, "{") {
		t.Fatalf("prod default should be JSON, got: %s", out)
	}
}
