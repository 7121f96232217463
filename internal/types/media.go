// Package types contains shared types used across multiple packages.
package types

// MediaKind identifies one generation task family. The set is closed:
// dispatch, provider capability checks, and fallback all switch on it.
type MediaKind string

const (
	KindImage        MediaKind = "image"
	KindImageEdit    MediaKind = "image-edit"
	KindVideo        MediaKind = "video"
	KindImageToVideo MediaKind = "image-to-video"
	KindMusic        MediaKind = "music"
)

// AllKinds lists every supported media kind, in display order.
func AllKinds() []MediaKind {
	return []MediaKind{KindImage, KindImageEdit, KindVideo, KindImageToVideo, KindMusic}
}

// Valid reports whether k is one of the supported kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case KindImage, KindImageEdit, KindVideo, KindImageToVideo, KindMusic:
		return true
	}
	return false
}

func (k MediaKind) String() string {
	return string(k)
}

// Label returns a human-readable name for notifications.
func (k MediaKind) Label() string {
	switch k {
	case KindImage:
		return "image"
	case KindImageEdit:
		return "image edit"
	case KindVideo:
		return "video"
	case KindImageToVideo:
		return "animation"
	case KindMusic:
		return "music"
	default:
		return string(k)
	}
}

// ParseKind normalizes a kind string from the API or a chat command.
// Returns false when the name is not a supported kind.
func ParseKind(s string) (MediaKind, bool) {
	k := MediaKind(s)
	if k.Valid() {
		return k, true
	}
	// Accepted aliases from the HTTP API and chat commands.
	switch s {
	case "img", "picture":
		return KindImage, true
	case "edit":
		return KindImageEdit, true
	case "animate", "i2v":
		return KindImageToVideo, true
	case "song", "audio":
		return KindMusic, true
	}
	return "", false
}
