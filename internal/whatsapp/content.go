package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"dispatch-gateway/internal/message"
)

// maxMediaSize caps media fetched from a media reference (WhatsApp's document limit).
const maxMediaSize = 100 << 20

// buildMessage converts msg into a whatsmeow message, uploading media first.
func (c *Client) buildMessage(ctx context.Context, msg *message.Outbound) (*waE2E.Message, error) {
	if !msg.IsMedia() {
		return TextMessage(msg.Body()), nil
	}

	data, mimeType, err := c.fetchMedia(ctx, msg.MediaRef())
	if err != nil {
		return nil, err
	}

	class := classify(mimeType)
	up, err := c.wa.Upload(ctx, data, class.uploadType())
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", class, err)
	}

	switch class {
	case classImage:
		return ImageMessage(up, mimeType, msg.Body()), nil
	case classVideo:
		return VideoMessage(up, mimeType, msg.Body()), nil
	case classAudio:
		// Audio messages carry no caption.
		return AudioMessage(up, mimeType), nil
	}

	filename := msg.Filename()
	if filename == "" {
		filename = filenameFromRef(msg.MediaRef())
	}
	return DocumentMessage(up, mimeType, filename, msg.Body()), nil
}

// fetchMedia downloads a media reference and works out its MIME type.
func (c *Client) fetchMedia(ctx context.Context, ref string) ([]byte, string, error) {
	resp, err := c.media.R().
		SetContext(ctx).
		Get(ref)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch media: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, "", fmt.Errorf("failed to fetch media: status %d", resp.StatusCode())
	}

	data := resp.Body()
	if len(data) == 0 {
		return nil, "", fmt.Errorf("media reference returned no data")
	}

	mimeType := strings.TrimSpace(strings.Split(resp.Header().Get("Content-Type"), ";")[0])
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = strings.Split(http.DetectContentType(data), ";")[0]
	}
	return data, mimeType, nil
}

// TextMessage builds a plain conversation message.
func TextMessage(body string) *waE2E.Message {
	return &waE2E.Message{
		Conversation: proto.String(body),
	}
}

// ImageMessage builds an image message from an upload, with body as caption.
func ImageMessage(up whatsmeow.UploadResponse, mimeType, caption string) *waE2E.Message {
	return &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       proto.String(caption),
		},
	}
}

// VideoMessage builds a video message from an upload, with body as caption.
func VideoMessage(up whatsmeow.UploadResponse, mimeType, caption string) *waE2E.Message {
	return &waE2E.Message{
		VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       proto.String(caption),
		},
	}
}

// AudioMessage builds an audio message from an upload.
func AudioMessage(up whatsmeow.UploadResponse, mimeType string) *waE2E.Message {
	return &waE2E.Message{
		AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		},
	}
}

// DocumentMessage builds a document message from an upload, with body as caption.
func DocumentMessage(up whatsmeow.UploadResponse, mimeType, filename, caption string) *waE2E.Message {
	return &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			FileName:      proto.String(filename),
			Title:         proto.String(filename),
			Caption:       proto.String(caption),
		},
	}
}

func filenameFromRef(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return "file"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}
