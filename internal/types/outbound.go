package types

// Outbound is the finished payload handed to a delivery channel: either a
// progress notice (Text only) or a completed result (media path + caption).
type Outbound struct {
	Delivery DeliveryContext

	Text      string // plain notice text, empty for media-only deliveries
	MediaPath string // absolute path of the stored artifact, empty for notices
	MIME      string // sniffed mime of MediaPath
	Caption   string // caption to send with the media

	TaskID string // orchestrator task id for correlation in logs
	Final  bool   // true when this closes out a task (success or failure)
	Err    string // non-empty when reporting a terminal failure
}

// IsNotice reports whether this outbound is a progress notice rather
// than a media delivery.
func (o *Outbound) IsNotice() bool {
	return o.MediaPath == "" && !o.Final
}

// DeliveryResult records what a channel did with one outbound payload.
type DeliveryResult struct {
	Channel   string
	Success   bool
	Error     string
	MessageID string // platform-specific id of the sent message
}
