package types

// GenResult is the normalized success envelope every provider adapter
// returns. Exactly one of URL or Data carries the artifact, except for
// text-only answers where both are empty and TextOnly is set.
type GenResult struct {
	Provider string    `json:"provider"`
	Kind     MediaKind `json:"kind"`
	URL      string    `json:"url,omitempty"`      // remote reference to fetch
	Data     []byte    `json:"-"`                  // inline payload
	MIME     string    `json:"mime,omitempty"`     // sniffed or provider-reported
	Caption  string    `json:"caption,omitempty"`  // revised prompt, title, or provider text
	ResultID string    `json:"resultId,omitempty"` // provider-side artifact id, chaining key
	CoverURL string    `json:"coverUrl,omitempty"` // companion artwork, feeds chained animation
	TextOnly bool      `json:"textOnly,omitempty"` // text answer accepted as the result
}

// HasPayload reports whether the result carries fetchable or inline media.
func (r *GenResult) HasPayload() bool {
	return r.URL != "" || len(r.Data) > 0
}
