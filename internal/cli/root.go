// Package cli implements the adpilot command line interface.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/adpilot-ai/adpilot/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"     _       _ ____  _ _       _\n" +
		"    / \\   __| |  _ \\(_) | ___ | |_\n" +
		"   / _ \\ / _` | |_) | | |/ _ \\| __|\n" +
		"  / ___ \\ (_| |  __/| | | (_) | |_\n" +
		" /_/   \\_\\__,_|_|   |_|_|\\___/ \\__|\n"
)

var rootCmd = &cobra.Command{
	Use:   "adpilot",
	Short: "AdPilot - AI assistant for ads, CRM, and customer messaging",
	Long:  color.CyanString(logo) + "\nA conversational control plane that turns business requests into safe, auditable actions.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(plansCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}
