/*
Package reconciler keeps a client's local view of every room it receives, not just the one
on screen: a per-room message cache deduplicated by id, unread counters, the focused room,
and the live roster. Every mutation re-evaluates the badge of the rooms it touched.

The reconciler never talks to the network. A session feeds it server events and it drives
a View.
*/
package reconciler

import (
	"slices"
	"sync"

	"relaychat/internal/app/message"
	"relaychat/internal/app/protocol"
	"relaychat/internal/app/room"
	"relaychat/internal/app/user"
)

// Line is one message as rendered: the cached message plus its author's current avatar.
// Message.Avatar stays the send-time snapshot.
type Line struct {
	Message    message.Message
	LiveAvatar string
	Mine       bool
}

// View is the presentation layer.
type View interface {
	// ShowRoom clears the conversation area and draws lines, oldest first.
	ShowRoom(key string, lines []Line)

	// Append draws one more line into the focused room.
	Append(line Line)

	// SetBadge shows count for key, or hides the badge when count is 0.
	SetBadge(key string, count int)

	// Alert plays the audible notification for a message from someone else.
	Alert(msg message.Message)

	// ShowTyping shows or clears the typing indicator of the focused room.
	ShowTyping(username string, typing bool)

	// RefreshAvatars redraws the focused room's lines after an author's live avatar changed.
	// Nothing else about the room changed.
	RefreshAvatars(key string, lines []Line)

	SetOnline(usernames []string)
	SetRoster(profiles []user.Profile)

	// Notice reports an error or status line.
	Notice(text string)
}

// Reconciler is safe for concurrent use; each method applies one event atomically.
type Reconciler struct {
	mu   sync.Mutex
	view View

	self  user.Account
	rooms []string

	cache  map[string][]message.Message
	seen   map[string]map[int64]struct{}
	unread map[string]int

	focused string

	// roster maps username to the current avatar; order keeps directory order.
	roster map[string]string
	order  []string

	online []string
}

func New(view View) *Reconciler {
	return &Reconciler{
		view:   view,
		cache:  make(map[string][]message.Message),
		seen:   make(map[string]map[int64]struct{}),
		unread: make(map[string]int),
		roster: make(map[string]string),
	}
}

// Authenticated loads the session snapshot and focuses the broadcast channel.
func (r *Reconciler) Authenticated(p protocol.AuthSuccessPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.self = p.User
	r.rooms = append([]string(nil), p.Rooms...)

	r.cache = make(map[string][]message.Message, len(p.History))
	r.seen = make(map[string]map[int64]struct{}, len(p.History))
	r.unread = make(map[string]int)
	for key, msgs := range p.History {
		for _, m := range msgs {
			r.store(key, m)
		}
	}

	r.roster = make(map[string]string, len(p.AllUsers))
	r.order = r.order[:0]
	for _, profile := range p.AllUsers {
		r.setProfile(profile)
	}

	r.online = slices.Clone(p.Online)

	r.view.SetRoster(r.profiles())
	r.view.SetOnline(slices.Clone(r.online))

	r.focus(room.Broadcast)
}

// Receive applies a delivered message. It reports false for a duplicate, which changes
// nothing: not the cache, not the counters, not the screen.
func (r *Reconciler) Receive(msg message.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.store(msg.Room, msg) {
		return false
	}

	if msg.Room == r.focused {
		r.view.Append(r.line(msg))
		return true
	}

	r.unread[msg.Room]++
	r.syncBadges(msg.Room)

	if msg.Author != r.self.Username {
		r.view.Alert(msg)
	}

	return true
}

// SwitchFocus opens key: its unread count resets and it is redrawn from the cache.
func (r *Reconciler) SwitchFocus(key string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.focused
	r.focus(key)
	return previous
}

func (r *Reconciler) focus(key string) {
	previous := r.focused
	r.focused = key
	r.unread[key] = 0

	r.view.ShowTyping("", false)
	r.view.ShowRoom(key, r.lines(key))
	r.syncBadges(previous, key)
}

// OnTyping shows a typing signal when it concerns the focused room.
func (r *Reconciler) OnTyping(p protocol.TypingPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Room != r.focused || p.User == r.self.Username {
		return
	}
	r.view.ShowTyping(p.User, p.IsTyping)
}

// SetOnline replaces the online list.
func (r *Reconciler) SetOnline(usernames []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.online = slices.Clone(usernames)
	r.view.SetOnline(slices.Clone(r.online))
}

// UserUpdated applies a directory change: a new identity or a new avatar. It never adds
// a room; the server announces rooms it subscribed the session to with RoomAdded.
func (r *Reconciler) UserUpdated(p user.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.applyProfile(p)
}

// ProfileSaved records the local identity's confirmed profile.
func (r *Reconciler) ProfileSaved(a user.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.self = a
	r.applyProfile(user.Profile{Username: a.Username, Avatar: a.Avatar})
}

// RoomAdded records a room the server subscribed this session to after authentication.
func (r *Reconciler) RoomAdded(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !slices.Contains(r.rooms, key) {
		r.rooms = append(r.rooms, key)
	}
}

// applyProfile must be called with mu held. Lines of the focused room written by p get
// their live avatar refreshed.
func (r *Reconciler) applyProfile(p user.Profile) {
	if p.Username == r.self.Username {
		r.self.Avatar = p.Avatar
	}

	r.setProfile(p)
	r.view.SetRoster(r.profiles())

	if slices.ContainsFunc(r.cache[r.focused], func(m message.Message) bool { return m.Author == p.Username }) {
		r.view.RefreshAvatars(r.focused, r.lines(r.focused))
	}
}

// Notice forwards a status line to the view.
func (r *Reconciler) Notice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.view.Notice(text)
}

// Self returns the local identity.
func (r *Reconciler) Self() user.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

func (r *Reconciler) Focused() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focused
}

// Unread returns the unread count of key.
func (r *Reconciler) Unread(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread[key]
}

// BadgeVisible applies the badge rule to key.
func (r *Reconciler) BadgeVisible(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.badge(key) > 0
}

// UnreadRooms returns every room with a visible badge and its count.
func (r *Reconciler) UnreadRooms() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int)
	for key := range r.unread {
		if n := r.badge(key); n > 0 {
			out[key] = n
		}
	}
	return out
}

// Messages returns a copy of the cache of key.
func (r *Reconciler) Messages(key string) []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.cache[key])
}

// Rooms returns the rooms this session receives.
func (r *Reconciler) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rooms)
}

func (r *Reconciler) Roster() []user.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profiles()
}

func (r *Reconciler) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.online)
}

// store appends msg to the cache of key unless its id is already there.
func (r *Reconciler) store(key string, msg message.Message) bool {
	ids, ok := r.seen[key]
	if !ok {
		ids = make(map[int64]struct{})
		r.seen[key] = ids
	}

	if _, dup := ids[msg.ID]; dup {
		return false
	}

	ids[msg.ID] = struct{}{}
	r.cache[key] = append(r.cache[key], msg)
	return true
}

// badge is the count to display for key: unread > 0 and not focused.
func (r *Reconciler) badge(key string) int {
	if key == r.focused {
		return 0
	}
	return r.unread[key]
}

func (r *Reconciler) syncBadges(keys ...string) {
	for _, key := range keys {
		if key != "" {
			r.view.SetBadge(key, r.badge(key))
		}
	}
}

func (r *Reconciler) setProfile(p user.Profile) {
	if _, known := r.roster[p.Username]; !known {
		r.order = append(r.order, p.Username)
	}
	r.roster[p.Username] = p.Avatar
}

func (r *Reconciler) profiles() []user.Profile {
	out := make([]user.Profile, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, user.Profile{Username: name, Avatar: r.roster[name]})
	}
	return out
}

func (r *Reconciler) line(m message.Message) Line {
	live, ok := r.roster[m.Author]
	if !ok {
		live = m.Avatar
	}
	return Line{Message: m, LiveAvatar: live, Mine: m.Author == r.self.Username}
}

func (r *Reconciler) lines(key string) []Line {
	msgs := r.cache[key]
	out := make([]Line, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, r.line(m))
	}
	return out
}
