package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow"
)

// mediaClass is the WhatsApp message variant a fetched file is sent as.
type mediaClass string

const (
	classImage    mediaClass = "image"
	classVideo    mediaClass = "video"
	classAudio    mediaClass = "audio"
	classDocument mediaClass = "document"
)

// classify picks the message variant for a MIME type. WebP goes out as a
// document since the gateway doesn't send stickers.
func classify(mime string) mediaClass {
	mime = strings.ToLower(mime)

	switch {
	case strings.HasPrefix(mime, "image/webp"):
		return classDocument
	case strings.HasPrefix(mime, "image/"):
		return classImage
	case strings.HasPrefix(mime, "video/"):
		return classVideo
	case strings.HasPrefix(mime, "audio/"):
		return classAudio
	default:
		return classDocument
	}
}

// uploadType maps the class to whatsmeow's upload media type.
func (c mediaClass) uploadType() whatsmeow.MediaType {
	switch c {
	case classImage:
		return whatsmeow.MediaImage
	case classVideo:
		return whatsmeow.MediaVideo
	case classAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}
