package chatclient

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"relaychat/internal/app/message"
	"relaychat/internal/app/reconciler"
	"relaychat/internal/app/room"
	"relaychat/internal/app/user"
)

// Terminal is a line-oriented View. It never redraws in place: focusing a room prints a
// header followed by the room's history.
type Terminal struct {
	mu   sync.Mutex
	out  io.Writer
	self string

	focused string
}

// NewTerminal writes to out on behalf of username, which names private rooms by peer.
func NewTerminal(out io.Writer, username string) *Terminal {
	return &Terminal{out: out, self: username}
}

// Label is how key is shown: #general for fixed rooms, @peer for private ones.
func (t *Terminal) Label(key string) string {
	if peer, ok := room.Peer(key, t.self); ok {
		return "@" + peer
	}
	return "#" + key
}

func (t *Terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}

func (t *Terminal) ShowRoom(key string, lines []reconciler.Line) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.focused = key
	t.printf("--- %s ---\n", t.Label(key))
	for _, l := range lines {
		t.printLine(l)
	}
}

func (t *Terminal) Append(line reconciler.Line) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.printLine(line)
}

func (t *Terminal) printLine(l reconciler.Line) {
	author := l.Message.Author
	if l.Mine {
		author += " (you)"
	}
	t.printf("[%s] %s: %s\n", l.Message.Time, author, l.Message.Text)
}

func (t *Terminal) SetBadge(key string, count int) {
	if count == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.printf("[%s: %d unread]\n", t.Label(key), count)
}

func (t *Terminal) Alert(message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.printf("\a")
}

func (t *Terminal) ShowTyping(username string, typing bool) {
	if !typing {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.printf("* %s is typing...\n", username)
}

func (t *Terminal) SetOnline(usernames []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.printf("* online: %s\n", strings.Join(usernames, ", "))
}

// RefreshAvatars is silent; the terminal prints no avatars, so a profile change leaves
// the transcript as it is.
func (t *Terminal) RefreshAvatars(string, []reconciler.Line) {}

// SetRoster is silent; /who prints the roster on demand.
func (t *Terminal) SetRoster([]user.Profile) {}

func (t *Terminal) Notice(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.printf("! %s\n", text)
}
