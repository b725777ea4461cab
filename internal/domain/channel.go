package domain

import "context"

// MessageSender delivers text replies to a chat.
type MessageSender interface {
	Send(ctx context.Context, msg OutgoingMessage) error
}

// MediaSender delivers stickers and photos. replyTo 0 means not a reply.
type MediaSender interface {
	SendSticker(ctx context.Context, chatID int64, sticker string, replyTo int) error
	SendImage(ctx context.Context, chatID int64, photo, caption string, replyTo int) error
}

// Outbound is everything a plugin may send back to a chat.
type Outbound interface {
	MessageSender
	MediaSender
}
