package chat

import "relaychat/internal/app/protocol"

// relayTyping forwards a typing signal from c to the other connections in key. Nothing is
// stored and nothing is sent back to c.
func (h *Hub) relayTyping(c *Client, key string, isTyping bool) {
	if !h.subscribed(c, key) {
		c.logger.Debug().Str("room", key).Msg("Typing signal for unsubscribed room dropped.")
		return
	}

	frame, err := protocol.Encode(protocol.EventUserTyping, protocol.TypingPayload{
		User:     c.Username,
		Room:     key,
		IsTyping: isTyping,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode typing signal")
		return
	}

	// typing is ephemeral: a full queue loses the signal, not the connection.
	for sub := range h.rooms[key] {
		if sub != c {
			sub.queue(frame)
		}
	}
}
