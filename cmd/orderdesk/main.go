// Orderdesk: an order store and a conversational assistant that cancels
// orders only after explicit confirmation.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "orderdesk",
	Short: "Orderdesk: order store and order assistant with confirmed cancellations.",
	Long: `Orderdesk runs an order store API and an LLM-backed assistant on top of it.
The assistant can track, list and add orders. Cancellations are checked
against the 10-day policy and only executed after the user confirms them.`,
	RunE:          runServe, // Default to the assistant gateway.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (or ORDERDESK_CONFIG env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, chatCmd, storeCmd, queryCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
