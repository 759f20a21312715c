package model

// ConverseEvent is the structural envelope of one upstream streaming item.
// Upstream APIs do not agree on where text, usage and stop reasons live, so
// every known location is a separate optional field. Providers fill the
// fields that match their wire shape and leave the rest nil; items whose
// shape matches nothing are still delivered and simply yield no output.
type ConverseEvent struct {
	ContentBlockDelta *ContentBlockDelta `json:"contentBlockDelta,omitempty"`
	Delta             *TextDelta         `json:"delta,omitempty"`
	Metadata          *StreamMetadata    `json:"metadata,omitempty"`
	Usage             *TokenUsage        `json:"usage,omitempty"`
	MessageStop       *MessageStop       `json:"messageStop,omitempty"`
	StopReason        string             `json:"stopReason,omitempty"`
}

// ContentBlockDelta wraps an incremental content update.
type ContentBlockDelta struct {
	Delta *TextDelta `json:"delta,omitempty"`
}

// TextDelta carries a text fragment under either of its known names.
type TextDelta struct {
	Text      string `json:"text,omitempty"`
	TextDelta string `json:"textDelta,omitempty"`
}

// StreamMetadata is the trailing metadata item of a conversation stream.
type StreamMetadata struct {
	Usage *TokenUsage `json:"usage,omitempty"`
}

// MessageStop marks the end of the generated message.
type MessageStop struct {
	StopReason string `json:"stopReason,omitempty"`
}
