// Package media stores, fetches, and prepares generated artifacts. It
// handles TTL-scoped storage for delivered files, remote artifact
// downloads, and image optimization for channel delivery limits.
package media

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Delivery limits for images pushed to chat channels.
const (
	MaxDimension = 2000             // Max width or height in pixels
	MaxBytes     = 10 * 1024 * 1024 // 10MB photo upload ceiling
	MinQuality   = 35               // Minimum JPEG quality to try
	MaxQuality   = 85               // Starting JPEG quality
)

// MinArtifactBytes is the smallest payload accepted as a real artifact.
// Providers occasionally answer success with an error page or truncated
// body; anything below this is treated as corrupt.
const MinArtifactBytes = 1024

// Image MIME types the optimizer can decode.
var SupportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// DetectMIME returns the MIME type from magic bytes (not file extension).
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupported returns true if the optimizer can process the MIME type.
func IsSupported(mimeType string) bool {
	return SupportedMIMETypes[mimeType]
}

// ExtForMIME maps a MIME type to a file extension for stored artifacts.
func ExtForMIME(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return ".mp3"
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	default:
		return ".bin"
	}
}

// ImageData is a processed image ready for delivery.
type ImageData struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Size returns the size in bytes.
func (img *ImageData) Size() int {
	return len(img.Data)
}

// IsWithinLimits returns true if the image meets delivery limits.
func (img *ImageData) IsWithinLimits() bool {
	return img.Width <= MaxDimension &&
		img.Height <= MaxDimension &&
		len(img.Data) <= MaxBytes
}
