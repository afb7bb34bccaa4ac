/*
Package protocol defines the JSON events exchanged over the chat WebSocket.

Every frame is an Envelope {"type": ..., "payload": ...}. Server and terminal client both
encode and decode through this package.
*/
package protocol

import (
	"encoding/json"
	"fmt"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
)

// EventType names an event.
type EventType string

// Client to server.
const (
	EventNewMessage    EventType = "new-message"
	EventJoinRoom      EventType = "join-room"
	EventTyping        EventType = "typing"
	EventUpdateProfile EventType = "update-profile"
)

// Server to client.
const (
	EventAuthSuccess   EventType = "auth-success"
	EventRenderMessage EventType = "render-message"
	EventUserTyping    EventType = "user-typing"
	EventOnlineList    EventType = "update-online-list"
	EventProfileSaved  EventType = "profile-saved"
	EventUserUpdated   EventType = "user-updated"
	EventRoomAdded     EventType = "room-added"
	EventError         EventType = "error"
)

// Envelope is one WebSocket frame.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessagePayload submits text to a room. User is informational; the server uses the
// authenticated identity as author.
type NewMessagePayload struct {
	User string `json:"user,omitempty"`
	Room string `json:"room"`
	Text string `json:"text"`
}

// JoinRoomPayload reports a focus change. It has no effect on membership.
type JoinRoomPayload struct {
	OldRoom string `json:"oldRoom"`
	NewRoom string `json:"newRoom"`
}

// TypingPayload is both the inbound typing event and the outbound user-typing event.
type TypingPayload struct {
	User     string `json:"user"`
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
}

// UpdateProfilePayload replaces the caller's email and avatar.
type UpdateProfilePayload struct {
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

// AuthSuccessPayload is the first event of every authenticated connection.
type AuthSuccessPayload struct {
	User     user.Account    `json:"user"`
	History  message.History `json:"history"`
	AllUsers []user.Profile  `json:"allUsers"`
	Online   []string        `json:"online"`

	// Rooms are the rooms this connection is subscribed to.
	Rooms []string `json:"rooms"`
}

// RoomAddedPayload names a room the connection was subscribed to after authentication,
// such as the private room with an identity that registered later.
type RoomAddedPayload struct {
	Room string `json:"room"`
}

// ErrorPayload mirrors errs.CustomError.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Encode builds a frame for payload.
func Encode(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}

	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// Decode unmarshals an envelope payload into T.
func Decode[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("%s event has no payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return v, nil
}
