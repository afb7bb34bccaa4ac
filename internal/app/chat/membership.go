package chat

import (
	"relaychat/internal/app/protocol"
	"relaychat/internal/app/room"
)

// onAuthenticated subscribes c to every room its identity can receive: the fixed channels
// and the private room shared with each other registered identity. It returns the rooms
// in that order.
func (h *Hub) onAuthenticated(c *Client) []string {
	rooms := room.Reachable(c.Username, h.directory.Usernames())
	for _, key := range rooms {
		h.subscribe(c, key)
	}
	return rooms
}

// onIdentityRegistered extends live sessions with the private room they share with
// newcomer, when configured to, and tells each session about its new room. In snapshot
// mode nothing is sent, so clients never list a room they cannot publish to.
func (h *Hub) onIdentityRegistered(newcomer string) {
	if !h.cfg.SubscribeNewIdentities {
		return
	}

	for c := range h.clients {
		if c.Username == newcomer {
			continue
		}
		key := room.DerivePrivateRoom(c.Username, newcomer)
		if h.subscribed(c, key) {
			continue
		}
		h.subscribe(c, key)
		c.SendEvent(protocol.EventRoomAdded, protocol.RoomAddedPayload{Room: key})
	}
}

// subscribe is idempotent.
func (h *Hub) subscribe(c *Client, key string) {
	subs, ok := h.rooms[key]
	if !ok {
		subs = make(map[*Client]struct{})
		h.rooms[key] = subs
	}

	subs[c] = struct{}{}
	c.rooms[key] = struct{}{}
}

func (h *Hub) unsubscribeAll(c *Client) {
	for key := range c.rooms {
		subs := h.rooms[key]
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, key)
		}
	}
	clear(c.rooms)
}

// subscribed reports whether c receives messages published to key.
func (h *Hub) subscribed(c *Client, key string) bool {
	_, ok := c.rooms[key]
	return ok
}
