package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			_ = writeJSON(cmd.OutOrStdout(), map[string]string{
				"version": buildVersion,
				"commit":  buildCommit,
				"date":    buildDate,
			})
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dispatch-gateway %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func init() {
	versionCmd.Flags().Bool("json", false, "Output in JSON format")
}
