package domain

import (
	"encoding/json"
	"strings"
)

// MessageKind identifies which wrapper of an update carried the message.
type MessageKind string

const (
	KindUnknown     MessageKind = ""
	KindMessage     MessageKind = "message"
	KindChannelPost MessageKind = "channel_post"
)

// SentAtLayout is the layout of CanonicalMessage.SentAtFormatted.
const SentAtLayout = "2006-01-02 15:04:05"

// CanonicalMessage is the normalized form of one inbound update.
// Every field holds its zero value when it could not be extracted;
// consumers branch on DecodeOK only.
type CanonicalMessage struct {
	UpdateID        int
	Kind            MessageKind
	ChatID          int64
	ChatName        string
	Text            string
	MessageID       int
	SentAt          int64 // unix seconds
	SentAtFormatted string
	SenderID        int64
	SenderFirstName string
	SenderLastName  string
	SenderUsername  string

	// DecodeOK is false when the fields needed for a stats row
	// (message id, date, sender id, sender first name) were missing.
	DecodeOK bool

	Raw json.RawMessage
}

// DisplayName renders the sender as "first last (@username)".
func (m CanonicalMessage) DisplayName() string {
	name := strings.TrimSpace(m.SenderFirstName + " " + m.SenderLastName)
	return name + " (@" + m.SenderUsername + ")"
}

// OutgoingMessage is a text reply handed to a MessageSender.
type OutgoingMessage struct {
	ChatID    int64
	Text      string
	ReplyTo   int    // 0 = not a reply
	ParseMode string // "", "Markdown", "HTML"
	// EnablePreview turns link previews back on; previews are disabled by default.
	EnablePreview bool
	// Extra is a raw query fragment appended verbatim (e.g. "reply_markup=...").
	Extra string
}
