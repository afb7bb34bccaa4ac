package chatclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/directory"
	"relaychat/internal/app/message"
	"relaychat/internal/app/protocol"
	"relaychat/internal/app/reconciler"
	"relaychat/internal/app/room"
	"relaychat/internal/app/store"
	"relaychat/internal/app/user"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/pow"
)

const testPassword = "secret123"

type testServer struct {
	url string
	dir *directory.Directory
	st  *store.Memory
}

func newTestServer(t *testing.T, powDifficulty int) *testServer {
	t.Helper()
	return newTestServerWith(t, powDifficulty, true)
}

// newTestServerWith controls whether live sessions join private rooms with identities
// that register after they connected.
func newTestServerWith(t *testing.T, powDifficulty int, subscribeNew bool) *testServer {
	t.Helper()

	st := store.NewMemory()
	dir := directory.New(st, nil, bcrypt.MinCost)
	hub := chat.NewHub(st, dir, chat.Config{SubscribeNewIdentities: subscribeNew}, 0)
	go hub.Run()

	powManager := pow.NewManager(powDifficulty)

	deps := &handler.AppDeps{
		Config: &configs.AppConfig{
			Environment:            configs.EnvDevelopment,
			JWTSecret:              "test-secret",
			PowDifficulty:          powDifficulty,
			SubscribeNewIdentities: subscribeNew,
		},
		Hub:       hub,
		Directory: dir,
		PoW:       powManager,
	}

	srv := httptest.NewServer(handler.Router(deps))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		powManager.Stop()
	})

	return &testServer{url: srv.URL, dir: dir, st: st}
}

func (s *testServer) seed(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := s.dir.Register(context.Background(), name, testPassword); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
}

// countingView records what the reconciler draws. It is called from the read loop.
type countingView struct {
	mu      sync.Mutex
	appends []message.Message
	alerts  int
	notices []string
}

func (v *countingView) ShowRoom(string, []reconciler.Line) {}

func (v *countingView) Append(l reconciler.Line) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.appends = append(v.appends, l.Message)
}

func (v *countingView) SetBadge(string, int) {}

func (v *countingView) Alert(message.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerts++
}

func (v *countingView) RefreshAvatars(string, []reconciler.Line) {}
func (v *countingView) ShowTyping(string, bool)                  {}
func (v *countingView) SetOnline([]string)                       {}
func (v *countingView) SetRoster([]user.Profile)                 {}

func (v *countingView) Notice(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, text)
}

func (v *countingView) alertCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.alerts
}

func (v *countingView) appended(text string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, m := range v.appends {
		if m.Text == text {
			n++
		}
	}
	return n
}

func connect(t *testing.T, srv *testServer, name string, view reconciler.View) *Session {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Connect(ctx, Config{ServerURL: srv.url, Username: name, Password: testPassword}, view)
	if err != nil {
		t.Fatalf("Connect(%s): %v", name, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcastRendersOnceOnEverySession(t *testing.T) {
	srv := newTestServer(t, 0)
	srv.seed(t, "alice", "bob")

	aliceView, bobView := &countingView{}, &countingView{}
	alice := connect(t, srv, "alice", aliceView)
	bob := connect(t, srv, "bob", bobView)

	if alice.Reconciler().Focused() != room.Broadcast {
		t.Fatalf("focused = %q, want %q", alice.Reconciler().Focused(), room.Broadcast)
	}

	if err := alice.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// A second message orders the check: once "marker" is drawn, "hello" has been too.
	if err := alice.Send("marker"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, v := range []*countingView{aliceView, bobView} {
		v := v
		eventually(t, "marker", func() bool { return v.appended("marker") == 1 })
		if n := v.appended("hello"); n != 1 {
			t.Errorf("hello drawn %d times, want 1", n)
		}
	}

	aliceMsgs := alice.Reconciler().Messages(room.Broadcast)
	bobMsgs := bob.Reconciler().Messages(room.Broadcast)
	if len(aliceMsgs) != 2 || len(bobMsgs) != 2 {
		t.Fatalf("cached %d and %d messages, want 2 each", len(aliceMsgs), len(bobMsgs))
	}
	if aliceMsgs[0].ID != bobMsgs[0].ID || aliceMsgs[0].ID == 0 {
		t.Errorf("ids differ or are zero: %d vs %d", aliceMsgs[0].ID, bobMsgs[0].ID)
	}
	if aliceMsgs[0].ID >= aliceMsgs[1].ID {
		t.Errorf("ids not increasing: %d then %d", aliceMsgs[0].ID, aliceMsgs[1].ID)
	}
	// Both sessions have general open, so nothing alerts.
	if a, b := aliceView.alertCount(), bobView.alertCount(); a != 0 || b != 0 {
		t.Errorf("alerts alice=%d bob=%d, want none", a, b)
	}

	doc, err := srv.st.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := len(doc.Messages[room.Broadcast]); got != 2 {
		t.Errorf("persisted %d messages, want 2", got)
	}
}

func TestPrivateMessageRaisesUnreadUntilFocused(t *testing.T) {
	srv := newTestServer(t, 0)
	srv.seed(t, "alice", "bob", "carol")

	aliceView := &countingView{}
	alice := connect(t, srv, "alice", aliceView)
	bob := connect(t, srv, "bob", &countingView{})
	carolView := &countingView{}
	carol := connect(t, srv, "carol", carolView)

	if err := bob.FocusPrivate("alice"); err != nil {
		t.Fatalf("FocusPrivate: %v", err)
	}
	if err := bob.Send("psst"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	key := room.DerivePrivateRoom("alice", "bob")
	rec := alice.Reconciler()
	eventually(t, "unread private message", func() bool { return rec.Unread(key) == 1 })

	if rec.Focused() != room.Broadcast {
		t.Errorf("focus moved to %q", rec.Focused())
	}
	if !rec.BadgeVisible(key) {
		t.Error("badge hidden")
	}
	if n := aliceView.alertCount(); n != 1 {
		t.Errorf("alerts = %d, want 1", n)
	}

	if err := alice.FocusPrivate("bob"); err != nil {
		t.Fatalf("FocusPrivate: %v", err)
	}
	if rec.Unread(key) != 0 || rec.BadgeVisible(key) {
		t.Errorf("unread = %d after focusing", rec.Unread(key))
	}
	if msgs := rec.Messages(key); len(msgs) != 1 || msgs[0].Text != "psst" {
		t.Errorf("private room = %+v", msgs)
	}

	// carol sends afterwards so her session has processed everything bob sent before it.
	if err := carol.Send("anyone?"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "carol's own message", func() bool { return carolView.appended("anyone?") == 1 })
	if n := len(carol.Reconciler().Messages(key)); n != 0 {
		t.Errorf("carol sees %d private messages", n)
	}
}

func TestHistoryIsRestoredOnReconnect(t *testing.T) {
	srv := newTestServer(t, 0)
	srv.seed(t, "alice", "bob")

	aliceView := &countingView{}
	alice := connect(t, srv, "alice", aliceView)
	if err := alice.Send("before"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "echo", func() bool { return aliceView.appended("before") == 1 })

	bob := connect(t, srv, "bob", &countingView{})
	msgs := bob.Reconciler().Messages(room.Broadcast)
	if len(msgs) != 1 || msgs[0].Text != "before" || msgs[0].Author != "alice" {
		t.Fatalf("snapshot = %+v", msgs)
	}
}

func TestRegisterSolvesProofOfWork(t *testing.T) {
	srv := newTestServer(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Connect(ctx, Config{ServerURL: srv.url, Username: "dave", Password: testPassword, Register: true}, &countingView{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()

	if got := s.Reconciler().Self().Username; got != "dave" {
		t.Errorf("self = %q", got)
	}
	if _, ok := srv.dir.Lookup("dave"); !ok {
		t.Error("dave not in directory")
	}
}

func TestConnectReportsBadCredentials(t *testing.T) {
	srv := newTestServer(t, 0)
	srv.seed(t, "alice")

	_, err := Connect(context.Background(), Config{ServerURL: srv.url, Username: "alice", Password: "wrong-password"}, &countingView{})

	var ce *errs.CustomError
	if !errors.As(err, &ce) || ce.Code != errs.ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestServerErrorsBecomeNotices(t *testing.T) {
	srv := newTestServer(t, 0)
	srv.seed(t, "alice")

	view := &countingView{}
	alice := connect(t, srv, "alice", view)

	if err := alice.Send("   "); err != nil {
		t.Fatal(err)
	}

	eventually(t, "error notice", func() bool {
		view.mu.Lock()
		defer view.mu.Unlock()
		return len(view.notices) == 1
	})
}

func TestProfileUpdateReachesOtherSessions(t *testing.T) {
	srv := newTestServer(t, 0)
	srv.seed(t, "alice", "bob")

	alice := connect(t, srv, "alice", &countingView{})
	bob := connect(t, srv, "bob", &countingView{})

	if err := alice.UpdateProfile("alice@example.com", "https://img.example/a.png"); err != nil {
		t.Fatal(err)
	}

	eventually(t, "profile-saved", func() bool {
		return alice.Reconciler().Self().Avatar == "https://img.example/a.png"
	})
	eventually(t, "user-updated", func() bool {
		for _, p := range bob.Reconciler().Roster() {
			if p.Username == "alice" {
				return p.Avatar == "https://img.example/a.png"
			}
		}
		return false
	})
}

func inRoster(s *Session, name string) bool {
	for _, p := range s.Reconciler().Roster() {
		if p.Username == name {
			return true
		}
	}
	return false
}

func TestLateRegistrantJoinsRoomsOnlyWhenSubscribed(t *testing.T) {
	srv := newTestServerWith(t, 0, true)
	srv.seed(t, "alice")

	alice := connect(t, srv, "alice", &countingView{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bob, err := Connect(ctx, Config{ServerURL: srv.url, Username: "bob", Password: testPassword, Register: true}, &countingView{})
	if err != nil {
		t.Fatalf("Connect(bob): %v", err)
	}
	defer bob.Close()

	key := room.DerivePrivateRoom("alice", "bob")
	eventually(t, "room-added", func() bool {
		return slices.Contains(alice.Reconciler().Rooms(), key)
	})
	if !inRoster(alice, "bob") {
		t.Error("bob missing from alice's roster")
	}

	// Registration returns only after alice was subscribed, so bob's first message lands.
	if err := bob.FocusPrivate("alice"); err != nil {
		t.Fatal(err)
	}
	if err := bob.Send("first"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "private message", func() bool { return alice.Reconciler().Unread(key) == 1 })
}

func TestSnapshotModeKeepsRoomsUntilReconnect(t *testing.T) {
	srv := newTestServerWith(t, 0, false)
	srv.seed(t, "alice")

	aliceView := &countingView{}
	alice := connect(t, srv, "alice", aliceView)
	before := alice.Reconciler().Rooms()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bob, err := Connect(ctx, Config{ServerURL: srv.url, Username: "bob", Password: testPassword, Register: true}, &countingView{})
	if err != nil {
		t.Fatalf("Connect(bob): %v", err)
	}
	defer bob.Close()

	eventually(t, "user-updated", func() bool { return inRoster(alice, "bob") })

	key := room.DerivePrivateRoom("alice", "bob")
	if got := alice.Reconciler().Rooms(); slices.Contains(got, key) || len(got) != len(before) {
		t.Fatalf("rooms = %v, want the snapshot %v", got, before)
	}

	if err := Execute(alice, NewTerminal(&bytes.Buffer{}, "alice"), &bytes.Buffer{}, "/dm bob"); err == nil {
		t.Error("/dm into an unsubscribed room succeeded")
	}

	// The server agrees: alice is not subscribed, so publishing there is refused.
	if err := alice.FocusPrivate("bob"); err != nil {
		t.Fatal(err)
	}
	if err := alice.Send("hi bob"); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("error %d:", errs.ErrRoomNotJoined)
	eventually(t, "room-not-joined notice", func() bool {
		aliceView.mu.Lock()
		defer aliceView.mu.Unlock()
		return len(aliceView.notices) == 1 && strings.HasPrefix(aliceView.notices[0], want)
	})

	// A reconnect recomputes the room set.
	again := connect(t, srv, "alice", &countingView{})
	if !slices.Contains(again.Reconciler().Rooms(), key) {
		t.Errorf("rooms after reconnect = %v, missing %s", again.Reconciler().Rooms(), key)
	}
}

func TestExecuteCommands(t *testing.T) {
	srv := newTestServer(t, 0)
	srv.seed(t, "alice", "bob")

	var screen bytes.Buffer
	term := NewTerminal(&bytes.Buffer{}, "alice")
	alice := connect(t, srv, "alice", term)

	if err := Execute(alice, term, &screen, "/dm bob"); err != nil {
		t.Fatalf("/dm: %v", err)
	}
	if got := alice.Reconciler().Focused(); got != "alice_bob" {
		t.Errorf("focused = %q", got)
	}

	if err := Execute(alice, term, &screen, "/join nowhere"); err == nil {
		t.Error("/join accepted an unknown room")
	}
	if err := Execute(alice, term, &screen, "/join general"); err != nil {
		t.Fatalf("/join: %v", err)
	}

	screen.Reset()
	if err := Execute(alice, term, &screen, "/rooms"); err != nil {
		t.Fatal(err)
	}
	if want := "> #general\n  #spam\n  @bob\n"; screen.String() != want {
		t.Errorf("/rooms printed %q, want %q", screen.String(), want)
	}

	screen.Reset()
	if err := Execute(alice, term, &screen, "/who"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(screen.String(), "alice") || !strings.Contains(screen.String(), "bob") {
		t.Errorf("/who printed %q", screen.String())
	}

	if err := Execute(alice, term, &screen, "/quit"); !errors.Is(err, ErrQuit) {
		t.Errorf("/quit = %v", err)
	}
	if err := Execute(alice, term, &screen, "/bogus"); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestTerminalLabels(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, "bob")

	term.ShowRoom("alice_bob", []reconciler.Line{
		{Message: message.Message{Author: "alice", Text: "hi", Time: "09:15"}},
		{Message: message.Message{Author: "bob", Text: "hey", Time: "09:16"}, Mine: true},
	})
	term.SetBadge(room.Secondary, 2)
	term.SetBadge(room.Broadcast, 0)

	want := "--- @alice ---\n[09:15] alice: hi\n[09:16] bob (you): hey\n[#spam: 2 unread]\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestTerminalKeepsTranscriptOnAvatarChange(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, "bob")
	rec := reconciler.New(term)
	rec.Authenticated(protocol.AuthSuccessPayload{
		User: user.Account{Username: "bob"},
		History: message.History{
			room.Broadcast: {{ID: 1, Room: room.Broadcast, Author: "alice", Text: "hi", Time: "09:15"}},
		},
		AllUsers: []user.Profile{{Username: "alice"}, {Username: "bob"}},
		Rooms:    room.Reachable("bob", []string{"alice", "bob"}),
	})
	drawn := out.String()

	rec.UserUpdated(user.Profile{Username: "alice", Avatar: "https://img.example/a.png"})
	rec.ProfileSaved(user.Account{Username: "bob", Avatar: "https://img.example/b.png"})

	if out.String() != drawn {
		t.Errorf("profile changes printed %q", strings.TrimPrefix(out.String(), drawn))
	}
}
