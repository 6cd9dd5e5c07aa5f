package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dispatch-gateway/internal/app"
	"dispatch-gateway/internal/dispatch"
	"dispatch-gateway/internal/qr"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message without starting the HTTP server",
	Example: `  dispatch-gateway send --number 919812345678 --message "Your order shipped"
  dispatch-gateway send --transport session --number 919812345678 --message "Invoice" \
    --type media --media-url https://cdn.example.com/inv.pdf --filename inv.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("transport")
		switch dispatch.Kind(kind) {
		case dispatch.KindAPIKey, dispatch.KindSession:
		default:
			return fmt.Errorf("unknown transport %q (want apikey or session)", kind)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Session.Enabled = dispatch.Kind(kind) == dispatch.KindSession

		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer a.Shutdown()
		a.HandleSignals()

		req := dispatch.Request{}
		req.Number, _ = cmd.Flags().GetString("number")
		req.Message, _ = cmd.Flags().GetString("message")
		req.Type, _ = cmd.Flags().GetString("type")
		req.MediaURL, _ = cmd.Flags().GetString("media-url")
		req.Filename, _ = cmd.Flags().GetString("filename")

		resp := a.Gateway.Dispatch(a.Context(), req, dispatch.Kind(kind))
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}

		if resp.RequiresQR && a.Session != nil {
			if st := a.Session.Status(); st.Artifact != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Session is not paired. Scan this code, or run 'dispatch-gateway pair':")
				_ = qr.PrintTerminal(cmd.OutOrStdout(), st.Artifact.Payload)
			}
		}
		if !resp.Success {
			return fmt.Errorf("dispatch failed with status %d", resp.Status)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().String("transport", string(dispatch.KindAPIKey), "Transport: apikey or session")
	sendCmd.Flags().StringP("number", "n", "", "Recipient phone number, digits only with country code")
	sendCmd.Flags().StringP("message", "m", "", "Message text (caption for media)")
	sendCmd.Flags().String("type", "text", "Message type: text or media")
	sendCmd.Flags().String("media-url", "", "Media URL for media messages")
	sendCmd.Flags().String("filename", "", "Filename shown for media documents")
}
