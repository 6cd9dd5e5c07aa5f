package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"dispatch-gateway/internal/app"
	"dispatch-gateway/internal/qr"
	"dispatch-gateway/internal/session"
)

const pairPollInterval = 500 * time.Millisecond

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair the WhatsApp session by scanning QR codes in the terminal",
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

		if err := a.Session.Initialize(); err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		w := &pairWatcher{
			out:      cmd.OutOrStdout(),
			pngPath:  out,
			clear:    isatty.IsTerminal(os.Stdout.Fd()),
			interval: pairPollInterval,
		}
		return w.Watch(a.Context(), a.Session)
	},
}

func init() {
	pairCmd.Flags().String("out", "", "Also write each QR code as a PNG to this path")
}

// pairWatcher prints each new pairing code until the session authenticates.
type pairWatcher struct {
	out      io.Writer
	pngPath  string
	clear    bool
	interval time.Duration
}

type statusSource interface {
	Status() session.Status
	FailureReason() string
}

// Watch polls src and prints codes as they rotate.
func (w *pairWatcher) Watch(ctx context.Context, src statusSource) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var shown string
	for {
		st := src.Status()
		switch st.State {
		case session.Authenticated:
			fmt.Fprintln(w.out, "Paired successfully.")
			return nil
		case session.AuthFailed:
			return fmt.Errorf("pairing failed: %s", src.FailureReason())
		}

		if st.Artifact != nil && st.Artifact.Payload != shown {
			shown = st.Artifact.Payload
			if err := w.show(*st.Artifact); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *pairWatcher) show(a session.Artifact) error {
	if w.clear {
		fmt.Fprint(w.out, "\033[H\033[2J")
	}
	fmt.Fprintln(w.out, "Scan the QR code below with WhatsApp (Linked Devices)")
	if err := qr.PrintTerminal(w.out, a.Payload); err != nil {
		return err
	}
	if w.pngPath != "" {
		if err := os.WriteFile(w.pngPath, a.Image, 0644); err != nil {
			return fmt.Errorf("failed to save QR code: %w", err)
		}
		fmt.Fprintf(w.out, "QR code saved to %s\n", w.pngPath)
	}
	return nil
}
