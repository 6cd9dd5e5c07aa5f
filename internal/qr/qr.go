// Package qr renders pairing payloads into scannable images.
package qr

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
)

const dataURLPrefix = "data:image/png;base64,"

// Renderer turns a raw pairing payload into a PNG.
type Renderer struct {
	size int
}

// NewRenderer creates a Renderer producing size x size PNGs.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = 256
	}
	return &Renderer{size: size}
}

// PNG encodes payload as a medium error-correction QR code.
func (r *Renderer) PNG(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("empty pairing payload")
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, r.size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}

// DataURL wraps a PNG as a data URL for direct use in an <img> tag.
func DataURL(png []byte) string {
	if len(png) == 0 {
		return ""
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png)
}

// PrintTerminal writes payload as block-character art, for pairing from a shell.
func PrintTerminal(w io.Writer, payload string) error {
	code, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("failed to generate QR code: %w", err)
	}
	_, err = fmt.Fprintf(w, "\n%s\n", code.ToSmallString(false))
	return err
}
