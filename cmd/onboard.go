package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/calder-ai/calder/internal/bootstrap"
	"github.com/calder-ai/calder/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-time setup",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists at %s; edit it directly or delete it to start over.\n", cfgPath)
		return
	}

	cfg := config.Default()
	var (
		provider  = "openai"
		baseURL   string
		model     string
		workspace = cfg.Workspace
		telegram  bool
		discord   bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("Other OpenAI-compatible endpoint", "custom"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Default model").
				Placeholder("gpt-4o").
				Value(&model),
			huh.NewInput().
				Title("Workspace directory").
				Value(&workspace),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Enable Telegram?").Value(&telegram),
			huh.NewConfirm().Title("Enable Discord?").Value(&discord),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "onboarding cancelled: %v\n", err)
		os.Exit(1)
	}

	if provider == "custom" {
		prompt := huh.NewInput().Title("Base URL").Value(&baseURL)
		if err := prompt.Run(); err != nil {
			os.Exit(1)
		}
		provider = "openai"
	}
	if model == "" {
		model = "gpt-4o"
	}

	cfg.Workspace = workspace
	cfg.Providers = map[string]config.ProviderConfig{
		provider: {BaseURL: baseURL, DefaultModel: model},
	}
	cfg.Channels.Telegram.Enabled = telegram
	cfg.Channels.Discord.Enabled = discord

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "save config: %v\n", err)
		os.Exit(1)
	}
	if _, err := bootstrap.EnsureWorkspace(cfg.WorkspacePath(), config.ExpandHome(cfg.SkillsDir)); err != nil {
		fmt.Fprintf(os.Stderr, "workspace setup: %v\n", err)
	}

	// Secrets never land in the config file; they come from the environment.
	envKey := "CALDER_" + strings.ToUpper(provider) + "_API_KEY"
	fmt.Printf("\nWrote %s\n\nBefore starting, export your credentials:\n", cfgPath)
	fmt.Printf("  export %s=sk-...\n", envKey)
	if telegram {
		fmt.Println("  export CALDER_TELEGRAM_TOKEN=...")
	}
	if discord {
		fmt.Println("  export CALDER_DISCORD_TOKEN=...")
	}
	fmt.Println("\nThen run: calder serve")
}
