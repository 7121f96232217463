// resolve.go implements path resolution and mimetype detection for
// artifact files served to channels and the HTTP API.
package media

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ResolveMediaPath converts a stored artifact reference to an absolute
// path. Relative paths resolve under the media root; absolute paths must
// already be inside it. Traversal outside the root is rejected.
func ResolveMediaPath(mediaRoot, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath = filepath.Join(mediaRoot, filepath.Clean("/"+path))
	}

	absPath = filepath.Clean(absPath)
	if absPath != mediaRoot && !strings.HasPrefix(absPath, mediaRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path outside media root: %s", path)
	}

	return absPath, nil
}

// DetectMimeType detects the MIME type of a file by reading its content,
// falling back to extension-based detection for formats the sniffer does
// not recognize.
func DetectMimeType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// http.DetectContentType uses at most 512 bytes
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}

	mimeType := http.DetectContentType(buf[:n])
	if mimeType == "application/octet-stream" {
		if extMime := mimeFromExtension(path); extMime != "" {
			mimeType = extMime
		}
	}

	return mimeType, nil
}

// mimeFromExtension returns MIME type based on file extension.
func mimeFromExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	// Images
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	// Video
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	// Audio
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	default:
		return ""
	}
}

// FileExists checks if a file exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
