/*
Package chatclient is the Go client of the relay: it logs in over REST, holds the
WebSocket, and feeds every server event into a reconciler that drives a View.
*/
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relaychat/internal/app/message"
	"relaychat/internal/app/protocol"
	"relaychat/internal/app/reconciler"
	"relaychat/internal/app/room"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

const (
	writeWait = 10 * time.Second

	// authWait bounds the wait for auth-success after the handshake.
	authWait = 10 * time.Second
)

// Config describes how to reach the server and as whom.
type Config struct {
	// ServerURL is the http(s) base URL of the server.
	ServerURL string

	Username string
	Password string

	// Register creates the identity before logging in.
	Register bool

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// TypingIdle overrides reconciler.TypingIdle.
	TypingIdle time.Duration

	// AfterFunc overrides the typing timer, for tests.
	AfterFunc reconciler.AfterFunc
}

// Session is one authenticated connection.
type Session struct {
	api  *apiClient
	conn *websocket.Conn

	writeMu sync.Mutex

	rec    *reconciler.Reconciler
	typing *reconciler.Typing

	done chan struct{}
	err  error

	logger zerolog.Logger
}

// Connect authenticates, opens the WebSocket and waits for the session snapshot. When it
// returns, the reconciler already holds the history and the view shows the broadcast channel.
func Connect(ctx context.Context, cfg Config, view reconciler.View) (*Session, error) {
	api, err := newAPIClient(cfg.ServerURL, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}

	var auth authResult
	if cfg.Register {
		auth, err = api.register(ctx, cfg.Username, cfg.Password)
	} else {
		auth, err = api.login(ctx, cfg.Username, cfg.Password)
	}
	if err != nil {
		return nil, err
	}
	api.token = auth.Token

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, res, err := dialer.DialContext(ctx, api.wsURL(), nil)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("websocket handshake failed with HTTP %d: %w", res.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	s := &Session{
		api:    api,
		conn:   conn,
		rec:    reconciler.New(view),
		done:   make(chan struct{}),
		logger: logx.Component("ChatClient").With().Str("username", auth.User.Username).Logger(),
	}
	s.typing = reconciler.NewTyping(cfg.TypingIdle, cfg.AfterFunc, s.announceTyping)

	if err := s.awaitSnapshot(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go s.readLoop()

	return s, nil
}

func (s *Session) awaitSnapshot() error {
	if err := s.conn.SetReadDeadline(time.Now().Add(authWait)); err != nil {
		return err
	}
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		env, err := s.readEnvelope()
		if err != nil {
			return fmt.Errorf("waiting for session snapshot: %w", err)
		}

		switch env.Type {
		case protocol.EventAuthSuccess:
			p, err := protocol.Decode[protocol.AuthSuccessPayload](env)
			if err != nil {
				return err
			}
			s.rec.Authenticated(p)
			return nil

		case protocol.EventError:
			p, _ := protocol.Decode[protocol.ErrorPayload](env)
			return &errs.CustomError{Code: p.Code, Message: p.Message}
		}
	}
}

func (s *Session) readEnvelope() (protocol.Envelope, error) {
	var env protocol.Envelope

	_, frame, err := s.conn.ReadMessage()
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("decode frame: %w", err)
	}
	return env, nil
}

func (s *Session) readLoop() {
	defer close(s.done)

	for {
		env, err := s.readEnvelope()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				s.err = err
			}
			return
		}

		s.handle(env)
	}
}

func (s *Session) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.EventRenderMessage:
		if m, err := protocol.Decode[message.Message](env); err == nil {
			s.rec.Receive(m)
			return
		}

	case protocol.EventUserTyping:
		if p, err := protocol.Decode[protocol.TypingPayload](env); err == nil {
			s.rec.OnTyping(p)
			return
		}

	case protocol.EventOnlineList:
		if p, err := protocol.Decode[[]string](env); err == nil {
			s.rec.SetOnline(p)
			return
		}

	case protocol.EventUserUpdated:
		if p, err := protocol.Decode[user.Profile](env); err == nil {
			s.rec.UserUpdated(p)
			return
		}

	case protocol.EventRoomAdded:
		if p, err := protocol.Decode[protocol.RoomAddedPayload](env); err == nil {
			s.rec.RoomAdded(p.Room)
			return
		}

	case protocol.EventProfileSaved:
		if p, err := protocol.Decode[user.Account](env); err == nil {
			s.rec.ProfileSaved(p)
			return
		}

	case protocol.EventError:
		if p, err := protocol.Decode[protocol.ErrorPayload](env); err == nil {
			s.rec.Notice(fmt.Sprintf("error %d: %s", p.Code, p.Message))
			return
		}

	default:
		s.logger.Debug().Str("event", string(env.Type)).Msg("Ignoring unknown event.")
		return
	}

	s.logger.Warn().Str("event", string(env.Type)).Msg("Malformed event payload.")
}

func (s *Session) write(t protocol.EventType, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Session) announceTyping(key string, isTyping bool) {
	err := s.write(protocol.EventTyping, protocol.TypingPayload{
		User:     s.rec.Self().Username,
		Room:     key,
		IsTyping: isTyping,
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send typing signal.")
	}
}

// Send submits text to the focused room. The message shows up when the server echoes it.
func (s *Session) Send(text string) error {
	s.typing.Stop()

	return s.write(protocol.EventNewMessage, protocol.NewMessagePayload{
		User: s.rec.Self().Username,
		Room: s.rec.Focused(),
		Text: text,
	})
}

// Focus opens key locally and tells the server, which only logs it.
func (s *Session) Focus(key string) error {
	s.typing.Stop()
	previous := s.rec.SwitchFocus(key)

	return s.write(protocol.EventJoinRoom, protocol.JoinRoomPayload{OldRoom: previous, NewRoom: key})
}

// FocusPrivate opens the private room with username.
func (s *Session) FocusPrivate(username string) error {
	self := s.rec.Self().Username
	if username == self {
		return fmt.Errorf("cannot open a private room with yourself")
	}
	return s.Focus(room.DerivePrivateRoom(self, username))
}

// Keystroke reports local input in the focused room.
func (s *Session) Keystroke() {
	s.typing.Keystroke(s.rec.Focused())
}

// UpdateProfile asks the server to store a new email and avatar.
func (s *Session) UpdateProfile(email, avatar string) error {
	return s.write(protocol.EventUpdateProfile, protocol.UpdateProfilePayload{Email: email, Avatar: avatar})
}

// Reconciler exposes the local state.
func (s *Session) Reconciler() *reconciler.Reconciler {
	return s.rec
}

// Done is closed when the connection ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the connection ended, or nil for a normal close. Valid after Done.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Close ends the session with a normal closure.
func (s *Session) Close() error {
	s.typing.Stop()

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(time.Second):
	}

	return s.conn.Close()
}
