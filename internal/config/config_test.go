package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rewind.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	cfg, err := Load(writeFile(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Store.Driver != "badger" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Rewind.SessionTimeout != 30*time.Minute || !cfg.Rewind.InlineSignals {
		t.Fatalf("unexpected engine defaults %+v", cfg.Rewind.Config)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9000"
store:
  driver: memory
rewind:
  session_timeout: 45m
  rate_limit: 200
  base_path: /replay
`)
	t.Setenv("REWIND_SERVER__ADDR", ":9100")
	t.Setenv("REWIND_REWIND__STRICT_CATALOG", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Errorf("env should override the file, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Rewind.SessionTimeout != 45*time.Minute || cfg.Rewind.RateLimit != 200 {
		t.Errorf("engine settings not loaded: %+v", cfg.Rewind.Config)
	}
	if !cfg.Rewind.StrictCatalog {
		t.Error("expected strict catalog from env")
	}
	if cfg.Rewind.BasePath != "/replay" {
		t.Errorf("BasePath = %q", cfg.Rewind.BasePath)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("unset keys must keep defaults, got %v", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeFile(t, "store:\n  driver: cassandra\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an unsupported driver error")
	}
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"REWIND_SERVER__ADDR":            "server.addr",
		"REWIND_REWIND__SESSION_TIMEOUT": "rewind.session_timeout",
		"REWIND_CONFIG":                  "",
		"REWIND_METRICS__ENABLED":        "metrics.enabled",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
