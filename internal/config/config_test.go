package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return p
}

func TestLoad_DefaultsAndIssuerRequired(t *testing.T) {
	if _, err := Load(writeYAML(t, "server:\n  addr: \":9999\"\n")); err == nil {
		t.Fatalf("esperaba error por issuer faltante")
	}

	cfg, err := Load(writeYAML(t, "jwt:\n  issuer: https://auth.vendhub.dev\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr default = %q", cfg.Server.Addr)
	}
	if cfg.SweepInterval() != 10*time.Minute {
		t.Fatalf("sweep interval default = %v", cfg.SweepInterval())
	}
	if cfg.Cookies.SameSite != "lax" {
		t.Fatalf("samesite default = %q", cfg.Cookies.SameSite)
	}
}

func TestLoad_EnvOverridesAndProdGuard(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("COOKIE_SECURE", "false") // prod la pisa igual

	cfg, err := Load(writeYAML(t, "jwt:\n  issuer: https://auth.vendhub.dev\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if !cfg.Cookies.Secure {
		t.Fatalf("en prod las cookies deben ser Secure")
	}
}

func TestLoad_BadDurationRejected(t *testing.T) {
	_, err := Load(writeYAML(t, "jwt:\n  issuer: x\nsessions:\n  sweep_interval: nope\n"))
	if err == nil {
		t.Fatalf("esperaba error por duración inválida")
	}
}
