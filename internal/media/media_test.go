package media

import (
	"strings"
	"testing"
)

// pngBytes returns a buffer that sniffs as image/png: the 8-byte PNG
// signature followed by zero padding up to size.
func pngBytes(size int) []byte {
	sig := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	if size < len(sig) {
		size = len(sig)
	}
	data := make([]byte, size)
	copy(data, sig)
	return data
}

func TestExtForMIME(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/jpeg", ".jpg"},
		{"image/png", ".png"},
		{"image/gif", ".gif"},
		{"image/webp", ".webp"},
		{"video/mp4", ".mp4"},
		{"video/webm", ".webm"},
		{"audio/mpeg", ".mp3"},
		{"audio/wav", ".wav"},
		{"audio/ogg", ".ogg"},
		{"application/pdf", ".bin"},
		{"", ".bin"},
	}

	for _, tt := range tests {
		if got := ExtForMIME(tt.mime); got != tt.want {
			t.Errorf("ExtForMIME(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestDetectMIME(t *testing.T) {
	if got := DetectMIME(pngBytes(64)); got != "image/png" {
		t.Errorf("png bytes detected as %q", got)
	}
	if got := DetectMIME([]byte("just some words")); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("plain text detected as %q", got)
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported("image/png") {
		t.Error("image/png should be supported by the optimizer")
	}
	if IsSupported("video/mp4") {
		t.Error("video/mp4 should not be supported by the optimizer")
	}
}
