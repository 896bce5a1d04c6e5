// Command specforge runs the app-builder backend: projects, spec documents,
// generation tasks and change review over an HTTP API.
//
// Usage:
//
//	JWT_SECRET=... LLM_BASE_URL=https://openrouter.ai/api/v1 specforge serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "specforge",
	Short: "AI app-builder backend",
	Long: "specforge stores project spec documents with full version history,\n" +
		"turns work requests into generated code changes and runs their review.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
