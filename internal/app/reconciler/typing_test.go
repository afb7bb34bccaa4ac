package reconciler

import (
	"slices"
	"testing"
	"time"
)

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	was := !f.stopped
	f.stopped = true
	return was
}

// fakeClock hands out timers that fire only when told to.
type fakeClock struct {
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{fn: f}
	c.timers = append(c.timers, t)
	return t
}

// fireAll runs every timer, stopped ones included, as a late time.AfterFunc would.
func (c *fakeClock) fireAll() {
	for _, t := range c.timers {
		t.fn()
	}
}

type announcement struct {
	key      string
	isTyping bool
}

func newTestTyping() (*Typing, *fakeClock, *[]announcement) {
	clock := &fakeClock{}
	var got []announcement
	typing := NewTyping(TypingIdle, clock.AfterFunc, func(key string, isTyping bool) {
		got = append(got, announcement{key, isTyping})
	})
	return typing, clock, &got
}

func TestEveryKeystrokeAnnouncesAndIdleExpiresOnce(t *testing.T) {
	typing, clock, got := newTestTyping()

	for i := 0; i < 5; i++ {
		typing.Keystroke("general")
	}

	if n := countAnnouncements(*got, announcement{"general", true}); n != 5 || len(*got) != 5 {
		t.Fatalf("5 keystrokes announced %v", *got)
	}
	if len(clock.timers) != 5 || !clock.timers[0].stopped || !clock.timers[3].stopped || clock.timers[4].stopped {
		t.Fatal("each keystroke must re-arm the idle timer")
	}

	// stale timers are ignored; only the latest one ends typing.
	clock.timers[0].fn()
	if len(*got) != 5 {
		t.Fatalf("stale timer announced: %v", *got)
	}

	clock.timers[4].fn()
	if (*got)[len(*got)-1] != (announcement{"general", false}) || len(*got) != 6 {
		t.Errorf("announcements = %v", *got)
	}

	clock.timers[4].fn()
	if len(*got) != 6 {
		t.Error("false must be announced once per burst")
	}

	typing.Keystroke("general")
	if (*got)[len(*got)-1] != (announcement{"general", true}) {
		t.Error("typing again after expiry must announce true")
	}
}

func countAnnouncements(got []announcement, want announcement) int {
	n := 0
	for _, a := range got {
		if a == want {
			n++
		}
	}
	return n
}

func TestStopAnnouncesFalseImmediately(t *testing.T) {
	typing, clock, got := newTestTyping()

	typing.Keystroke("alice_bob")
	typing.Stop()
	clock.fireAll()
	typing.Stop()

	if !slices.Equal(*got, []announcement{{"alice_bob", true}, {"alice_bob", false}}) {
		t.Errorf("announcements = %v", *got)
	}
}

func TestTypingMovesWithTheRoom(t *testing.T) {
	typing, _, got := newTestTyping()

	typing.Keystroke("general")
	typing.Keystroke("spam")

	want := []announcement{{"general", true}, {"general", false}, {"spam", true}}
	if !slices.Equal(*got, want) {
		t.Errorf("announcements = %v, want %v", *got, want)
	}
}

func TestTypingWithRealTimer(t *testing.T) {
	done := make(chan announcement, 2)
	typing := NewTyping(10*time.Millisecond, nil, func(key string, isTyping bool) {
		done <- announcement{key, isTyping}
	})

	typing.Keystroke("general")

	for _, want := range []announcement{{"general", true}, {"general", false}} {
		select {
		case a := <-done:
			if a != want {
				t.Fatalf("got %v, want %v", a, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("idle timer never fired")
		}
	}
}
