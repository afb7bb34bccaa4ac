package chat

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/message"
	"relaychat/internal/app/protocol"
	"relaychat/internal/app/store"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

const (
	inboundBuffer  = 1024
	announceBuffer = 64

	// storeTimeout bounds every store call made from the hub loop.
	storeTimeout = 5 * time.Second
)

// Directory is the identity directory as the hub sees it.
type Directory interface {
	Lookup(username string) (user.Identity, bool)
	Usernames() []string
	Profiles() []user.Profile
	UpdateProfile(ctx context.Context, username, email, avatar string) (user.Identity, error)
}

// Config tunes hub behaviour.
type Config struct {
	// SubscribeNewIdentities subscribes live sessions to the private room they share with an
	// identity that registers after they connected. When false, sessions keep the room set
	// computed when they authenticated until they reconnect.
	SubscribeNewIdentities bool
}

type inboundEvent struct {
	client *Client
	env    protocol.Envelope
}

type announcement struct {
	identity   user.Identity
	registered bool

	// done, when set, is closed once the loop has handled the announcement.
	done chan struct{}
}

// Hub is the single owner of relay state. Every mutation of subscriptions, presence and
// message ids happens on the goroutine running Run, so handlers need no locks.
type Hub struct {
	store     store.Store
	directory Directory
	cfg       Config

	ids      *idAllocator
	presence *Presence

	clients map[*Client]struct{}

	// rooms maps a room key to its subscribed connections.
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	announce   chan announcement

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	logger zerolog.Logger
}

// NewHub builds a hub over st and dir. lastID is the largest message id already persisted,
// so ids keep increasing across restarts.
func NewHub(st store.Store, dir Directory, cfg Config, lastID int64) *Hub {
	return &Hub{
		store:      st,
		directory:  dir,
		cfg:        cfg,
		ids:        newIDAllocator(lastID, time.Now),
		presence:   NewPresence(),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent, inboundBuffer),
		announce:   make(chan announcement, announceBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logx.Component("Hub"),
	}
}

// Run is the hub loop. It returns after Stop.
func (h *Hub) Run() {
	defer h.shutdown()

	h.logger.Info().Bool("subscribe_new_identities", h.cfg.SubscribeNewIdentities).Msg("Hub loop started.")

	for {
		select {
		case c := <-h.register:
			h.safely("register", func() { h.handleRegister(c) })

		case c := <-h.unregister:
			h.safely("unregister", func() { h.drop(c) })

		case in := <-h.inbound:
			h.safely(string(in.env.Type), func() { h.handleEvent(in.client, in.env) })

		case a := <-h.announce:
			h.safely("announce", func() { h.handleAnnouncement(a) })

		case <-h.stop:
			return
		}
	}
}

// Stop ends the loop and closes every connection. It blocks until Run has returned.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.logger.Info().Msg("Received stop signal. Stopping hub.")
		close(h.stop)
	})
	<-h.done
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		c.close()
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})

	close(h.done)
	h.logger.Info().Msg("Hub loop finished.")
}

// safely runs one handler, recovering a panic so that one bad event cannot take the
// loop and every other connection down with it.
func (h *Hub) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Str("handler", what).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in hub handler.")
		}
	}()

	fn()
}

// Register hands an authenticated connection to the hub. It reports false when the hub
// has stopped, in which case the caller owns closing the connection.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stop:
		return false
	}
}

// Unregister removes c. Unknown or already removed clients are ignored.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

// Dispatch queues an inbound event from c.
func (h *Hub) Dispatch(c *Client, env protocol.Envelope) bool {
	select {
	case h.inbound <- inboundEvent{client: c, env: env}:
		return true
	case <-h.stop:
		return false
	}
}

// IdentityRegistered tells live sessions about a new identity. It returns once the loop
// has subscribed and notified them, so the newcomer cannot publish into a private room
// before its peers are listening.
func (h *Hub) IdentityRegistered(identity user.Identity) {
	a := announcement{identity: identity, registered: true, done: make(chan struct{})}
	if !h.enqueueAnnouncement(a) {
		return
	}

	select {
	case <-a.done:
	case <-h.stop:
	}
}

// ProfileChanged tells live sessions about an updated profile made outside a session,
// such as through the REST API.
func (h *Hub) ProfileChanged(identity user.Identity) {
	h.enqueueAnnouncement(announcement{identity: identity})
}

func (h *Hub) enqueueAnnouncement(a announcement) bool {
	select {
	case h.announce <- a:
		return true
	case <-h.stop:
		return false
	}
}

// handleRegister authenticates c into the relay: subscriptions, history snapshot,
// presence. The snapshot is read on the loop, so every message persisted before it is in
// the snapshot and every later one reaches c live.
func (h *Hub) handleRegister(c *Client) {
	identity, ok := h.directory.Lookup(c.Username)
	if !ok {
		c.logger.Warn().Msg("Connection for unknown identity rejected.")
		c.SendError(errs.NewError(errs.ErrUserNotFound))
		c.close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	doc, err := h.store.Load(ctx)
	cancel()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to load history snapshot.")
		c.SendError(errs.NewError(errs.ErrUnknown, err))
		c.close()
		return
	}

	h.clients[c] = struct{}{}
	rooms := h.onAuthenticated(c)
	h.presence.Connect(c.Username)

	history := make(message.History, len(rooms))
	for _, key := range rooms {
		msgs := doc.Messages[key]
		if msgs == nil {
			msgs = []message.Message{}
		}
		history[key] = msgs
	}

	c.SendEvent(protocol.EventAuthSuccess, protocol.AuthSuccessPayload{
		User:     identity.Account(),
		History:  history,
		AllUsers: h.directory.Profiles(),
		Online:   h.presence.Online(),
		Rooms:    rooms,
	})

	c.logger.Info().
		Int("rooms", len(rooms)).
		Int("connections", len(h.clients)).
		Msg("Client authenticated.")

	h.broadcastOnline()
}

// drop removes c from every room and from presence, then closes its queue.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	h.unsubscribeAll(c)
	h.presence.Disconnect(c.Username)
	c.close()

	c.logger.Info().Int("connections", len(h.clients)).Msg("Client left.")

	h.broadcastOnline()
}

func (h *Hub) handleEvent(c *Client, env protocol.Envelope) {
	if _, live := h.clients[c]; !live {
		return
	}

	switch env.Type {
	case protocol.EventNewMessage:
		p, err := protocol.Decode[protocol.NewMessagePayload](env)
		if err != nil {
			c.SendError(errs.NewError(errs.ErrInvalidParams))
			return
		}
		if p.User != "" && p.User != c.Username {
			c.logger.Warn().Str("claimed_user", p.User).Msg("Message author claim ignored.")
		}
		if _, err := h.submit(c, p.Room, p.Text); err != nil {
			c.SendError(err)
		}

	case protocol.EventTyping:
		p, err := protocol.Decode[protocol.TypingPayload](env)
		if err != nil {
			c.SendError(errs.NewError(errs.ErrInvalidParams))
			return
		}
		h.relayTyping(c, p.Room, p.IsTyping)

	case protocol.EventJoinRoom:
		p, err := protocol.Decode[protocol.JoinRoomPayload](env)
		if err != nil {
			c.SendError(errs.NewError(errs.ErrInvalidParams))
			return
		}
		h.focusChanged(c, p.OldRoom, p.NewRoom)

	case protocol.EventUpdateProfile:
		p, err := protocol.Decode[protocol.UpdateProfilePayload](env)
		if err != nil {
			c.SendError(errs.NewError(errs.ErrInvalidParams))
			return
		}
		h.updateProfile(c, p)

	default:
		c.SendError(errs.NewError(errs.ErrUnsupportedEvent, string(env.Type)))
	}
}

// focusChanged records which room c has open. Focus never changes membership.
func (h *Hub) focusChanged(c *Client, oldRoom, newRoom string) {
	if _, ok := c.rooms[newRoom]; !ok {
		c.logger.Warn().
			Str("room", newRoom).
			Msg("Focus moved to a room the connection is not subscribed to; nothing will be delivered there.")
		return
	}

	c.logger.Debug().Str("old_room", oldRoom).Str("new_room", newRoom).Msg("Focus changed.")
}

func (h *Hub) handleAnnouncement(a announcement) {
	if a.done != nil {
		defer close(a.done)
	}

	if a.registered {
		h.onIdentityRegistered(a.identity.Username)
		h.broadcastAll(protocol.EventUserUpdated, a.identity.Profile())
		return
	}

	h.onProfileChanged(a.identity)
}

// broadcastOnline sends the full sorted online list to every connection.
func (h *Hub) broadcastOnline() {
	h.broadcastAll(protocol.EventOnlineList, h.presence.Online())
}

// broadcastAll sends one event to every connection, dropping connections whose queue is full.
func (h *Hub) broadcastAll(t protocol.EventType, payload any) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(t)).Msg("Failed to encode broadcast")
		return
	}

	var slow []*Client
	for c := range h.clients {
		if !c.queue(frame) {
			slow = append(slow, c)
		}
	}

	h.dropSlow(slow)
}

func (h *Hub) dropSlow(slow []*Client) {
	for _, c := range slow {
		c.logger.Warn().Msg("Dropping connection that cannot keep up.")
		h.drop(c)
	}
}
