package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "apex.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

const minimalValidConfig = `{
	"version": "1",
	"channels": [
		{"name": "openai-primary", "provider_type": "openai", "base_url": "https://api.openai.com/v1", "api_key": "sk-1"}
	],
	"routers": [
		{"name": "default", "channel": "openai-primary"}
	]
}`

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, minimalValidConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Routers) != 1 || cfg.Routers[0].Name != "default" {
		t.Errorf("unexpected routers: %+v", cfg.Routers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeTempConfig(t, `{ not valid json`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoadInvalidConfigSurfacesConfigError(t *testing.T) {
	path := writeTempConfig(t, `{"routers": [{"name": "default", "channel": "missing"}]}`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for dangling channel reference")
	}
}

func TestLoadPrefersGlobalBlockOverGlobalAuth(t *testing.T) {
	body := `{
		"global": {"mode": "api_key", "keys": ["top-level"]},
		"channels": [
			{"name": "openai-primary", "provider_type": "openai", "base_url": "https://api.openai.com/v1", "api_key": "sk-1"}
		],
		"routers": [{"name": "default", "channel": "openai-primary"}]
	}`
	path := writeTempConfig(t, body)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GlobalAuth.Mode != "api_key" || len(cfg.GlobalAuth.Keys) != 1 || cfg.GlobalAuth.Keys[0] != "top-level" {
		t.Errorf("expected global auth from \"global\" block, got %+v", cfg.GlobalAuth)
	}
}
