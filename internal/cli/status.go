package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adpilot-ai/adpilot/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ AdPilot Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 AdPilot Status")
		fmt.Printf("Version: %s\n", version)

		configPath, _ := config.ConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println("Config:  ✓ Found (" + configPath + ")")
		} else {
			fmt.Println("Config:  ✗ Not found (defaults + environment in use)")
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Println("Config:  ? Unable to load:", err)
			return
		}
		if cfg.Providers.OpenAI.APIKey != "" {
			fmt.Println("API Key: ✓ Found")
		} else {
			fmt.Println("API Key: ✗ Not found (keyword classification only)")
		}

		fmt.Printf("Mode:    %s\n", cfg.Agent.Mode)
		printIntegration("Ads", cfg.Integrations.Ads)
		printIntegration("CRM", cfg.Integrations.CRM)
		printIntegration("Messaging", cfg.Integrations.Messaging)
		printIntegration("Slack channel", cfg.Channels.Slack.Enabled)
		printIntegration("NATS channel", cfg.Channels.NATS.Enabled)
		printIntegration("Redis cache", cfg.Cache.RedisEnabled)
		printIntegration("Kafka traces", cfg.Trace.KafkaEnabled)
	},
}

func printIntegration(name string, enabled bool) {
	mark := "✗"
	if enabled {
		mark = "✓"
	}
	fmt.Printf("%-14s %s\n", name+":", mark)
}
