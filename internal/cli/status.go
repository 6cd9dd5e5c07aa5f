package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dispatch-gateway/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the WhatsApp session is paired",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Session.Enabled = true

		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer a.Shutdown()
		a.HandleSignals()

		resp := a.Gateway.Status(a.Context())
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("session status: %s", resp.Error)
		}
		return nil
	},
}
