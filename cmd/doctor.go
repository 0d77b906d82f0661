package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calder-ai/calder/internal/bootstrap"
	"github.com/calder-ai/calder/internal/config"
	"github.com/calder-ai/calder/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("calder doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND; run: calder onboard)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Providers:")
	if len(cfg.Providers) == 0 {
		fmt.Println("    none configured")
	}
	for name, p := range cfg.Providers {
		status := "MISSING API KEY"
		if p.APIKey != "" {
			status = "ok"
		}
		envKey := p.APIKeyEnv
		if envKey == "" {
			envKey = "CALDER_" + strings.ToUpper(name) + "_API_KEY"
		}
		fmt.Printf("    %-12s model=%s key=%s (%s)\n", name, p.DefaultModel, envKey, status)
	}

	workspace := cfg.WorkspacePath()
	fmt.Println()
	fmt.Println("  Workspace:")
	checkDir("root", workspace)
	checkFile("prompt", filepath.Join(workspace, bootstrap.AgentFile))
	for _, sub := range []string{"sessions", "memory", "plans", "auto", "preferences"} {
		checkDir(sub, filepath.Join(workspace, sub))
	}
	checkDir("skills", config.ExpandHome(cfg.SkillsDir))

	fmt.Println()
	fmt.Println("  Channels:")
	channelStatus("telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token, "CALDER_TELEGRAM_TOKEN")
	channelStatus("discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token, "CALDER_DISCORD_TOKEN")
	if cfg.Channels.Web.Enabled {
		fmt.Printf("    %-10s enabled (ws://%s:%d/ws)\n", "web", cfg.Gateway.Host, cfg.Gateway.Port)
	} else {
		fmt.Printf("    %-10s disabled\n", "web")
	}

	fmt.Println()
	fmt.Printf("  Scheduler: enabled=%v interval=%dm\n", cfg.Scheduler.Enabled, cfg.Scheduler.IntervalMinutes)
	if cfg.Telemetry.Enabled {
		fmt.Printf("  Telemetry: %s\n", cfg.Telemetry.Endpoint)
	}
}

func checkDir(label, path string) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		fmt.Printf("    %-12s %s (OK)\n", label, path)
	} else {
		fmt.Printf("    %-12s %s (missing; created on first run)\n", label, path)
	}
}

func checkFile(label, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("    %-12s %s (OK)\n", label, path)
	} else {
		fmt.Printf("    %-12s %s (missing; created on first run)\n", label, path)
	}
}

func channelStatus(name string, enabled bool, token, envKey string) {
	switch {
	case !enabled:
		fmt.Printf("    %-10s disabled\n", name)
	case token == "":
		fmt.Printf("    %-10s enabled but %s is not set\n", name, envKey)
	default:
		fmt.Printf("    %-10s enabled (token ok)\n", name)
	}
}
