// Package config holds the runtime configuration tree. The file format is
// JSON5 so configs can carry comments; secrets come from the environment
// only and are never written back to disk.
package config

import (
	"os"
	"sync"
)

// Config is the root of the configuration tree.
type Config struct {
	mu sync.RWMutex

	// Workspace is the agent's root directory; every store lives under it.
	Workspace string `json:"workspace"`

	Providers   map[string]ProviderConfig `json:"providers"`
	Tiers       map[string]TierSpec       `json:"tiers,omitempty"`
	DefaultTier string                    `json:"defaultTier,omitempty"`

	Gateway   GatewayConfig   `json:"gateway"`
	Hooks     HooksConfig     `json:"hooks,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Memory    MemoryConfig    `json:"memory"`
	Turn      TurnConfig      `json:"turn"`
	SkillsDir string          `json:"skillsDir,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
}

// ProviderConfig describes one OpenAI-compatible endpoint. APIKey is filled
// from the environment at load time and stripped before any save.
type ProviderConfig struct {
	APIKey       string `json:"-"`
	APIKeyEnv    string `json:"apiKeyEnv,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// TierSpec binds a model tier to a provider model.
type TierSpec struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoningEffort,omitempty"`
}

type GatewayConfig struct {
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	Token             string   `json:"-"`
	AllowedOrigins    []string `json:"allowedOrigins,omitempty"`
	InboundDebounceMs int      `json:"inboundDebounceMs,omitempty"`
}

type HooksConfig struct {
	Token        string        `json:"-"`
	MaxBodyBytes int64         `json:"maxBodyBytes,omitempty"`
	Mappings     []HookMapping `json:"mappings,omitempty"`
}

// HookMapping declares one /hooks/{name} endpoint. Secrets resolve from the
// named env vars.
type HookMapping struct {
	Name      string `json:"name"`
	TokenEnv  string `json:"tokenEnv,omitempty"`
	SecretEnv string `json:"secretEnv,omitempty"`
	ChatID    string `json:"chatId,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Web      WebConfig      `json:"web"`
}

type TelegramConfig struct {
	Enabled     bool     `json:"enabled"`
	Token       string   `json:"-"`
	AllowFrom   []string `json:"allowFrom,omitempty"`
	MsgsPerSec  float64  `json:"msgsPerSec,omitempty"`
	MaxImageDim int      `json:"maxImageDim,omitempty"`
}

type DiscordConfig struct {
	Enabled     bool     `json:"enabled"`
	Token       string   `json:"-"`
	AllowFrom   []string `json:"allowFrom,omitempty"`
	MsgsPerSec  float64  `json:"msgsPerSec,omitempty"`
	MaxImageDim int      `json:"maxImageDim,omitempty"`
}

type WebConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type SchedulerConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"intervalMinutes,omitempty"`
}

type MemoryConfig struct {
	SoftTokenBudget int `json:"softTokenBudget,omitempty"`
	HardTokenBudget int `json:"hardTokenBudget,omitempty"`
	EpisodicTTLDays int `json:"episodicTtlDays,omitempty"`
}

// TurnConfig bounds a single turn.
type TurnConfig struct {
	MaxLlmCalls         int `json:"maxLlmCalls,omitempty"`
	MaxToolExecutions   int `json:"maxToolExecutions,omitempty"`
	DeadlineMinutes     int `json:"deadlineMinutes,omitempty"`
	ToolTimeoutSeconds  int `json:"toolTimeoutSeconds,omitempty"`
	MaxContextTokens    int `json:"maxContextTokens,omitempty"`
	KeepLastMessages    int `json:"keepLastMessages,omitempty"`
	LlmCallTimeoutSec   int `json:"llmCallTimeoutSec,omitempty"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

type TailscaleConfig struct {
	Enabled  bool   `json:"enabled"`
	Hostname string `json:"hostname,omitempty"`
}

// Default returns a Config with working defaults for everything but
// credentials.
func Default() *Config {
	return &Config{
		Workspace: "~/.calder/workspace",
		Providers: map[string]ProviderConfig{
			"openai": {DefaultModel: "gpt-4o"},
		},
		DefaultTier: "balanced",
		Gateway: GatewayConfig{
			Host:              "0.0.0.0",
			Port:              18790,
			InboundDebounceMs: 1000,
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 15,
		},
		Memory: MemoryConfig{
			SoftTokenBudget: 600,
			HardTokenBudget: 1200,
			EpisodicTTLDays: 14,
		},
		Turn: TurnConfig{
			MaxLlmCalls:        200,
			MaxToolExecutions:  500,
			DeadlineMinutes:    60,
			ToolTimeoutSeconds: 60,
			MaxContextTokens:   120000,
			KeepLastMessages:   20,
			LlmCallTimeoutSec:  300,
		},
		SkillsDir: "~/.calder/skills",
		Telemetry: TelemetryConfig{
			ServiceName: "calder",
		},
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Workspace)
}
