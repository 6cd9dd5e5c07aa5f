// Package cli implements the dispatch-gateway command line.
package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"dispatch-gateway/internal/infra/config"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersion is called from main to inject build-time version info.
func SetVersion(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
}

var rootCmd = &cobra.Command{
	Use:   "dispatch-gateway",
	Short: "Send WhatsApp messages through a hosted provider or a paired device",
	Long: `dispatch-gateway accepts "send this message to this number" requests and
delivers them either through the hosted API-key provider or through a WhatsApp
session paired to this host by scanning a QR code.

Start the HTTP gateway:
  dispatch-gateway serve

Pair the session from a terminal:
  dispatch-gateway pair`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a JSON config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves configuration from --config and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
