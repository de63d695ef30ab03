package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validMemoryConfig() Config {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "memory"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_PortRange(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := validMemoryConfig()
		cfg.HTTP.Port = port
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d: expected error", port)
		}
	}
}

func TestValidate_Driver(t *testing.T) {
	cfg := validMemoryConfig()
	cfg.Database.Driver = "postgres"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "database.driver") {
		t.Errorf("expected driver error, got %v", err)
	}

	cfg = validMemoryConfig()
	cfg.Database.Driver = "redis"
	cfg.Database.Addrs = nil
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "database.addrs") {
		t.Errorf("expected addrs error, got %v", err)
	}

	cfg.Database.Addrs = []string{"localhost:6379"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid redis config rejected: %v", err)
	}
}

func TestValidate_OverlapBounds(t *testing.T) {
	cfg := validMemoryConfig()
	cfg.Chunking.MaxChunkSize = 100
	cfg.Chunking.Overlap = 100
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "chunking.overlap") {
		t.Errorf("expected overlap error, got %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Database.Driver != "redis" {
		t.Errorf("expected default driver redis, got %q", cfg.Database.Driver)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("expected default dimensions 1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Chunking.MaxChunkSize != 1500 || cfg.Chunking.Overlap != 200 {
		t.Errorf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Index.DefaultTopK != 8 || cfg.Index.MaxTopK != 100 {
		t.Errorf("unexpected top_k defaults: %+v", cfg.Index)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Chunking:  ChunkingConfig{MaxChunkSize: 100, Overlap: 20},
		Embedding: EmbeddingConfig{Dimensions: 768},
	}
	cfg.ApplyDefaults()

	if cfg.Chunking.MaxChunkSize != 100 || cfg.Chunking.Overlap != 20 {
		t.Errorf("explicit chunking overridden: %+v", cfg.Chunking)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("explicit dimensions overridden: %d", cfg.Embedding.Dimensions)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SIFTD_TEST_PORT", "9090")
	os.Unsetenv("SIFTD_TEST_ABSENT")

	in := []byte("port: ${SIFTD_TEST_PORT}\nhost: ${SIFTD_TEST_ABSENT:-fallback}\nempty: ${SIFTD_TEST_ABSENT}\n")
	out := string(expandEnvVars(in))

	if !strings.Contains(out, "port: 9090") {
		t.Errorf("env var not expanded: %q", out)
	}
	if !strings.Contains(out, "host: fallback") {
		t.Errorf("default not applied: %q", out)
	}
	if !strings.Contains(out, "empty: \n") && !strings.Contains(out, "empty:\n") {
		t.Errorf("absent var should expand to empty: %q", out)
	}
}

func TestLoad_FromConfigDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yaml := `
http:
  port: 9191
database:
  driver: memory
chunking:
  max_chunk_size: 800
  overlap: 80
`
	if err := os.WriteFile(filepath.Join(dir, "config", "testenv.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load("testenv")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 9191 {
		t.Errorf("expected port 9191, got %d", cfg.HTTP.Port)
	}
	if cfg.Chunking.MaxChunkSize != 800 || cfg.Chunking.Overlap != 80 {
		t.Errorf("unexpected chunking: %+v", cfg.Chunking)
	}
	// Defaults are applied on top of the file.
	if cfg.Index.DefaultTopK != 8 {
		t.Errorf("expected default top_k 8, got %d", cfg.Index.DefaultTopK)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	if _, err := Load("no-such-env"); err == nil {
		t.Error("expected error for missing config file")
	}
}
