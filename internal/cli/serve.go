package cli

import (
	"github.com/spf13/cobra"

	"dispatch-gateway/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}

		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		return a.Run()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
}
