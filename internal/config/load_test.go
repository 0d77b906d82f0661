package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestSaveLoadRoundTrip verifies Save writes a file Load can read back, with
// parent directories created and secret fields kept off disk.
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Workspace = "/srv/agent"
	cfg.Gateway.Port = 9090
	cfg.Gateway.Token = "super-secret"
	cfg.Providers = map[string]ProviderConfig{
		"openai": {APIKey: "sk-live", DefaultModel: "gpt-x"},
	}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	for _, secret := range []string{"super-secret", "sk-live"} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("secret %q written to disk", secret)
		}
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Workspace != "/srv/agent" || got.Gateway.Port != 9090 {
		t.Errorf("workspace=%q port=%d", got.Workspace, got.Gateway.Port)
	}
	if _, ok := got.Providers["openai"]; !ok {
		t.Error("provider entry lost in the roundtrip")
	}
}

// TestLoad_EnvOverrides verifies env vars overlay a missing file and that a
// channel token arriving via env enables the channel.
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CALDER_PORT", "7070")
	t.Setenv("CALDER_TELEGRAM_TOKEN", "tg-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Gateway.Port)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("telegram = %+v", cfg.Channels.Telegram)
	}
}
