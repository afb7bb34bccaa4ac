/*
Package chat is the relay core: one hub goroutine owns every subscription, the presence
counts and the message id allocator, and each WebSocket connection is a Client with a
read pump and a write pump.

This file defines the Client, an authenticated WebSocket connection.
*/
package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"relaychat/internal/app/protocol"
	"relaychat/internal/pkg/errs"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 8192

	sendBufferSize = 256

	// inbound events per second per connection, and the burst allowed above it.
	eventRate  = 10
	eventBurst = 20
)

// Client is one authenticated connection. An identity may hold several.
type Client struct {
	// ID distinguishes connections of the same identity in logs.
	ID string

	// Username is the authenticated identity; it is the author of everything this
	// connection submits.
	Username string

	hub  *Hub
	conn *websocket.Conn

	// mu guards send against a close racing a queue from the read pump.
	mu     sync.Mutex
	send   chan []byte
	closed bool

	// rooms is owned by the hub loop.
	rooms map[string]struct{}

	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient builds a connection for username. conn may be nil when the client is driven
// directly through the hub, as the tests do.
func NewClient(hub *Hub, conn *websocket.Conn, username string) *Client {
	id := uuid.NewString()

	return &Client{
		ID:       id,
		Username: username,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		rooms:    make(map[string]struct{}),
		limiter:  rate.NewLimiter(eventRate, eventBurst),
		logger: hub.logger.With().
			Str("conn_id", id).
			Str("username", username).
			Logger(),
	}
}

// ReadPump reads frames until the connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInbound(frame)
	}
}

func (c *Client) cleanupOnDisconnect() {
	c.logger.Debug().Msg("Client connection cleanup starting.")

	c.hub.Unregister(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// processInbound decodes one frame and hands it to the hub.
func (c *Client) processInbound(frame []byte) {
	if !c.limiter.Allow() {
		c.logger.Warn().Msg("Inbound event rate exceeded, dropping event.")
		c.SendError(errs.NewError(errs.ErrRateLimitExceeded))
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.logger.Warn().Err(err).Int("frame_len", len(frame)).Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	switch env.Type {
	case protocol.EventNewMessage, protocol.EventJoinRoom, protocol.EventTyping, protocol.EventUpdateProfile:
		c.hub.Dispatch(c, env)

	default:
		c.logger.Warn().Str("event", string(env.Type)).Msg("Client sent unsupported event type")
		c.SendError(errs.NewError(errs.ErrUnsupportedEvent, string(env.Type)))
	}
}

// WritePump writes queued frames and heartbeats until the send queue is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueued(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeQueued returns false when the write pump should stop.
func (c *Client) writeQueued(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// queue offers frame to the write pump without blocking. It reports false when the
// client is closed or its queue is full.
func (c *Client) queue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, dropping frame")
		return false
	}
}

// close ends the write pump. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// SendEvent encodes and queues one event for this connection.
func (c *Client) SendEvent(t protocol.EventType, payload any) bool {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(t)).Msg("Failed to encode event")
		return false
	}
	return c.queue(frame)
}

// SendError reports err to this connection only.
func (c *Client) SendError(err error) {
	customErr := errs.FromError(err)
	if customErr == nil {
		return
	}

	if !c.SendEvent(protocol.EventError, protocol.ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	}) {
		c.logger.Debug().Int("code", customErr.Code).Msg("Failed to queue error event")
	}
}
