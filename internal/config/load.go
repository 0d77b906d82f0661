package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, and secrets only ever come from env.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Provider API keys: explicit apiKeyEnv wins, else CALDER_<NAME>_API_KEY.
	for name, p := range c.Providers {
		keyEnv := p.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "CALDER_" + strings.ToUpper(name) + "_API_KEY"
		}
		if v := os.Getenv(keyEnv); v != "" {
			p.APIKey = v
			c.Providers[name] = p
		}
	}

	envStr("CALDER_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("CALDER_HOOKS_TOKEN", &c.Hooks.Token)
	envStr("CALDER_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("CALDER_DISCORD_TOKEN", &c.Channels.Discord.Token)

	// Channels auto-enable when credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("CALDER_WORKSPACE", &c.Workspace)
	envStr("CALDER_SKILLS_DIR", &c.SkillsDir)
	envStr("CALDER_HOST", &c.Gateway.Host)
	if v := os.Getenv("CALDER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("CALDER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("CALDER_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	envStr("CALDER_TSNET_HOSTNAME", &c.Tailscale.Hostname)
}

// HookToken resolves the bearer token for a named hook mapping.
func (m HookMapping) HookToken() string {
	if m.TokenEnv == "" {
		return ""
	}
	return os.Getenv(m.TokenEnv)
}

// HookSecret resolves the HMAC secret for a named hook mapping.
func (m HookMapping) HookSecret() string {
	if m.SecretEnv == "" {
		return ""
	}
	return os.Getenv(m.SecretEnv)
}

// Save writes the config to path. Secret fields are json:"-" so they never
// land on disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
