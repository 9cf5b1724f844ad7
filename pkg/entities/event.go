package entities

// DispatchEvent is one inbound message as seen by the dispatch pipeline.
// Events are ephemeral and never persisted.
type DispatchEvent struct {
	MessageID      int
	ChatID         int64
	SenderID       int64
	SenderUsername string
	SenderFullName string

	Text    string
	Caption string

	// ReplyToSenderID is the author of the replied-to message, if the
	// event is a reply.
	ReplyToSenderID *int64

	// Media describes an attached photo/animation/video/sticker, nil if
	// the message carries none.
	Media *MediaRef
}

// Body returns the renderable message body: the text, or the caption when
// the message is a captioned media unit.
func (ev DispatchEvent) Body() string {
	if ev.Text != "" {
		return ev.Text
	}
	return ev.Caption
}

// HasBody reports whether there is anything to render at all. A bare media
// message has no body and gets forwarded as-is.
func (ev DispatchEvent) HasBody() bool {
	return ev.Text != "" || ev.Caption != ""
}
