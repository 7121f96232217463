package types

// GenRequest is a single generation request as it travels through the
// orchestrator: escalator -> dispatcher -> provider adapter.
type GenRequest struct {
	Kind     MediaKind
	Prompt   string
	Options  GenOptions
	Delivery DeliveryContext

	// FollowUp, when set, asks for a chained task once this one completes
	// (e.g. an animation keyed to a finished music track).
	FollowUp *FollowUp
}

// GenOptions carries media-specific knobs. Zero values mean provider defaults.
type GenOptions struct {
	Provider     string // preferred provider id, "" lets the resolver decide
	Model        string // provider-specific model variant override
	ImageURL     string // source image reference for edit / image-to-video
	ImagePath    string // local source image, wins over ImageURL when both set
	DurationSecs int    // clip length for video and music
	Instrumental bool   // music without vocals
	AcceptText   bool   // a text-only provider answer counts as success
}

// FollowUp describes the chained task dispatched after completion.
type FollowUp struct {
	Kind   MediaKind
	Prompt string
}

// DeliveryContext routes results and progress notices back to whoever asked.
// The orchestrator never inspects it beyond passing it along.
type DeliveryContext struct {
	Channel   string `json:"channel"`             // "telegram", "api"
	ChatID    int64  `json:"chatId,omitempty"`    // telegram chat
	ReplyTo   int    `json:"replyTo,omitempty"`   // telegram message being answered
	RequestID string `json:"requestId,omitempty"` // api-side correlation id
}
