package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdirWithConfig writes yamlContent to config.yaml in a temp dir and changes into it.
// An empty yamlContent leaves the directory without a config file.
func chdirWithConfig(t *testing.T, yamlContent string) {
	t.Helper()

	tmpDir := t.TempDir()
	if yamlContent != "" {
		if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	chdirWithConfig(t, `
port: "3480"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
indexing:
  workers: 3
`)

	os.Unsetenv("PGHOST")
	os.Unsetenv("BASE_URL")
	t.Setenv("PORT", "4480")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("INDEXING_WORKERS", "5")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4480" {
		t.Errorf("expected Port=4480 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.BaseURL != "http://localhost:4480" {
		t.Errorf("expected BaseURL=http://localhost:4480, got %s", cfg.BaseURL)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Indexing.Workers != 5 {
		t.Errorf("expected Indexing.Workers=5 (from env), got %d", cfg.Indexing.Workers)
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdirWithConfig(t, `
env: "test"
`)
	for _, key := range []string{"PORT", "BASE_URL", "INDEXING_WORKERS", "INDEXING_MIN_REQUEST_INTERVAL",
		"ENRICHMENT_BATCH_SIZE", "REDIS_HOST", "STATE_BACKEND", "OVERPASS_URL"} {
		os.Unsetenv(key)
	}

	cfg, err := Load("v")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Indexing.Workers != 2 {
		t.Errorf("expected Indexing.Workers=2, got %d", cfg.Indexing.Workers)
	}
	if cfg.Indexing.MinRequestInterval != time.Second {
		t.Errorf("expected MinRequestInterval=1s, got %v", cfg.Indexing.MinRequestInterval)
	}
	if cfg.Enrichment.BatchSize != 500 {
		t.Errorf("expected BatchSize=500, got %d", cfg.Enrichment.BatchSize)
	}
	if cfg.Redis.Host != "" {
		t.Errorf("expected feature cache disabled by default, got host %q", cfg.Redis.Host)
	}
	if cfg.StateBackend != "postgres" {
		t.Errorf("expected StateBackend=postgres, got %s", cfg.StateBackend)
	}
	if cfg.Overpass.URL == "" {
		t.Error("expected a default Overpass URL")
	}
}

func TestLoad_MissingConfigFileUsesEnv(t *testing.T) {
	chdirWithConfig(t, "")
	os.Unsetenv("BASE_URL")
	t.Setenv("PORT", "5555")
	t.Setenv("STATE_BACKEND", "memory")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != "5555" {
		t.Errorf("expected Port=5555, got %s", cfg.Port)
	}
	if cfg.StateBackend != "memory" {
		t.Errorf("expected StateBackend=memory, got %s", cfg.StateBackend)
	}
}

func TestLoad_InvalidStateBackend(t *testing.T) {
	chdirWithConfig(t, `
state_backend: "sqlite"
`)
	os.Unsetenv("STATE_BACKEND")

	if _, err := Load("v"); err == nil {
		t.Error("expected error for unknown state backend")
	}
}

func TestLoad_InvalidGridTiles(t *testing.T) {
	chdirWithConfig(t, `
indexing:
  default_grid_tiles: 10
  max_grid_tiles: 4
`)
	os.Unsetenv("INDEXING_DEFAULT_GRID_TILES")
	os.Unsetenv("INDEXING_MAX_GRID_TILES")

	if _, err := Load("v"); err == nil {
		t.Error("expected error when default_grid_tiles exceeds max_grid_tiles")
	}
}

func TestLoad_BaseURLExplicit(t *testing.T) {
	chdirWithConfig(t, `
port: "3480"
base_url: "http://geo.internal:8080"
`)
	os.Unsetenv("BASE_URL")
	os.Unsetenv("PORT")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.BaseURL != "http://geo.internal:8080" {
		t.Errorf("expected explicit BaseURL, got %s", cfg.BaseURL)
	}
}

func TestLoad_TLSRequiresBoth(t *testing.T) {
	chdirWithConfig(t, `
tls_cert_path: "/tmp/cert.pem"
`)
	os.Unsetenv("TLS_CERT_PATH")
	os.Unsetenv("TLS_KEY_PATH")

	if _, err := Load("v"); err == nil {
		t.Error("expected error when only tls_cert_path is set")
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := &DatabaseConfig{Host: "db.example.com", Port: 5433, User: "u", Password: "p", Database: "geo", SSLMode: "require"}

	want := "host=db.example.com port=5433 user=u password=p dbname=geo sslmode=require"
	if got := c.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
