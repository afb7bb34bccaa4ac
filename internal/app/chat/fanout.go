package chat

import (
	"context"
	"strings"

	"relaychat/internal/app/message"
	"relaychat/internal/app/protocol"
	"relaychat/internal/pkg/errs"
)

const (
	// MaxContentBytes is the largest accepted message text.
	MaxContentBytes = 5000

	sendTimeLayout = "15:04"
)

// submit creates a message from author in key, persists it and publishes it to every
// subscriber of key, the author's own connection included. Nothing is published unless
// the append succeeded.
func (h *Hub) submit(author *Client, key, text string) (message.Message, error) {
	if !h.subscribed(author, key) {
		return message.Message{}, errs.NewError(errs.ErrRoomNotJoined, key)
	}

	if strings.TrimSpace(text) == "" {
		return message.Message{}, errs.NewError(errs.ErrMessageEmpty)
	}

	if len(text) > MaxContentBytes {
		return message.Message{}, errs.NewError(errs.ErrMessageContentTooLong)
	}

	identity, ok := h.directory.Lookup(author.Username)
	if !ok {
		return message.Message{}, errs.NewError(errs.ErrUserNotFound)
	}

	id, at := h.ids.next()
	msg := message.Message{
		ID:     id,
		Room:   key,
		Author: author.Username,
		Text:   text,
		Time:   at.Format(sendTimeLayout),
		Avatar: identity.AvatarURL(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := h.store.AppendMessage(ctx, key, msg); err != nil {
		author.logger.Error().Err(err).Int64("message_id", id).Str("room", key).Msg("Failed to persist message; not publishing.")
		return message.Message{}, errs.NewError(errs.ErrMessageNotPersisted)
	}

	h.publish(key, msg)
	return msg, nil
}

// publish delivers msg to every subscriber of its room.
func (h *Hub) publish(key string, msg message.Message) int {
	subs := h.rooms[key]
	if len(subs) == 0 {
		h.logger.Warn().Str("room", key).Int64("message_id", msg.ID).Msg("Published to a room with no subscribers.")
		return 0
	}

	frame, err := protocol.Encode(protocol.EventRenderMessage, msg)
	if err != nil {
		h.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to encode message")
		return 0
	}

	delivered := 0
	var slow []*Client
	for c := range subs {
		if c.queue(frame) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}

	h.dropSlow(slow)
	return delivered
}
