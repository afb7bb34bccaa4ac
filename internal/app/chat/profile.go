package chat

import (
	"context"

	"relaychat/internal/app/protocol"
	"relaychat/internal/app/user"
)

// updateProfile applies an update-profile event from c.
func (h *Hub) updateProfile(c *Client, p protocol.UpdateProfilePayload) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	identity, err := h.directory.UpdateProfile(ctx, c.Username, p.Email, p.Avatar)
	if err != nil {
		c.SendError(err)
		return
	}

	h.onProfileChanged(identity)
}

// onProfileChanged confirms the change to every connection of the identity and
// republishes the avatar to everyone. Past messages keep the avatar they were sent with.
func (h *Hub) onProfileChanged(identity user.Identity) {
	for c := range h.clients {
		if c.Username == identity.Username {
			c.SendEvent(protocol.EventProfileSaved, identity.Account())
		}
	}

	h.broadcastAll(protocol.EventUserUpdated, identity.Profile())
}
