package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// go test -v --run TestLoadFile
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
fetcher:
  max_attempts: 3
  base_delay: 500ms
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5433
    user: app
    password: secret
    dbname: alerts
    sslmode: require
scheduler:
  cadence:
    1m: 20s
  watch: [BTCUSDT:1m]
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Fetcher.MaxAttempts != 3 || cfg.Fetcher.BaseDelay != 500*time.Millisecond {
		t.Errorf("unexpected fetcher config: %+v", cfg.Fetcher)
	}
	// default survives
	if cfg.Fetcher.MaxDelay != 30*time.Second {
		t.Errorf("expected default max delay, got %v", cfg.Fetcher.MaxDelay)
	}
	if cfg.Scheduler.Cadence["1m"] != 20*time.Second {
		t.Errorf("unexpected cadence override: %v", cfg.Scheduler.Cadence)
	}
	if len(cfg.Scheduler.Watch) != 1 || cfg.Scheduler.Watch[0] != "BTCUSDT:1m" {
		t.Errorf("unexpected watch list: %v", cfg.Scheduler.Watch)
	}

	dsn, err := cfg.Database.Postgres.DSN("dev")
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	want := "host=db.internal port=5433 user=app password=secret dbname=alerts sslmode=require TimeZone=UTC"
	if dsn != want {
		t.Errorf("DSN = %q, want %q", dsn, want)
	}
}

// go test -v --run TestProdDSNRequiresParams
func TestProdDSNRequiresParams(t *testing.T) {
	cfg := PostgresConfig{Host: "localhost", Port: 5432, DBName: "x", SSLMode: "disable"}
	if _, err := cfg.DSN("prod"); err == nil {
		t.Fatal("expected error without ssm parameter names")
	}
}
