package chatclient

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"relaychat/internal/app/room"
)

// ErrQuit is returned by Execute for /quit.
var ErrQuit = errors.New("quit")

// Execute runs one input line: a slash command, or text to send to the focused room.
func Execute(s *Session, term *Terminal, out io.Writer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		return s.Send(line)
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	rec := s.Reconciler()

	switch name {
	case "quit", "q":
		return ErrQuit

	case "join", "j":
		if arg == "" {
			return fmt.Errorf("usage: /join <room>")
		}
		if !slices.Contains(rec.Rooms(), arg) {
			return fmt.Errorf("unknown room %q", arg)
		}
		return s.Focus(arg)

	case "dm":
		if arg == "" {
			return fmt.Errorf("usage: /dm <user>")
		}
		self := rec.Self().Username
		if arg != self && !slices.Contains(rec.Rooms(), room.DerivePrivateRoom(self, arg)) {
			return fmt.Errorf("no private room with %q; reconnect if they registered after you", arg)
		}
		return s.FocusPrivate(arg)

	case "rooms":
		for _, key := range rec.Rooms() {
			marker := " "
			if key == rec.Focused() {
				marker = ">"
			}
			fmt.Fprintf(out, "%s %s\n", marker, term.Label(key))
		}
		return nil

	case "who":
		online := rec.Online()
		for _, p := range rec.Roster() {
			status := "offline"
			if slices.Contains(online, p.Username) {
				status = "online"
			}
			fmt.Fprintf(out, "  %-20s %s\n", p.Username, status)
		}
		return nil

	case "unread":
		counts := rec.UnreadRooms()
		if len(counts) == 0 {
			fmt.Fprintln(out, "no unread messages")
			return nil
		}
		keys := make([]string, 0, len(counts))
		for key := range counts {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(out, "  %s %d\n", term.Label(key), counts[key])
		}
		return nil

	case "avatar":
		return s.UpdateProfile(rec.Self().Email, arg)

	case "email":
		return s.UpdateProfile(arg, rec.Self().Avatar)

	case "help":
		fmt.Fprintln(out, "commands: /join <room>, /dm <user>, /rooms, /who, /unread, /avatar <url>, /email <addr>, /quit")
		return nil
	}

	return fmt.Errorf("unknown command /%s", name)
}
