package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillmesh.json")
	raw := `{
  "storage": {"driver": "sqlite", "sqlite": {"path": "data/reg.db"}},
  "auth": {"mode": "static", "keys": [{"key": "k", "agent_id": "agent-a", "scopes": ["admin"]}]}
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Queue.Driver != "memory" || cfg.Queue.Worker != 4 {
		t.Fatalf("unexpected queue defaults %+v", cfg.Queue)
	}
	if want := filepath.Join(dir, "data", "reg.db"); cfg.Storage.SQLite.Path != want {
		t.Fatalf("sqlite path = %q, want %q", cfg.Storage.SQLite.Path, want)
	}
	if cfg.Auth.Mode != "static" || len(cfg.Auth.Keys) != 1 {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
