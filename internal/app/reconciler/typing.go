package reconciler

import (
	"sync"
	"time"
)

// TypingIdle is how long after the last keystroke the local identity stops typing.
const TypingIdle = 2 * time.Second

// Timer is the part of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Typing debounces the local identity's typing signal: true on every keystroke, so a peer
// that opens the room mid-burst still sees it, and false once after an idle window with no
// keystroke, or right away when the message is sent.
type Typing struct {
	mu        sync.Mutex
	idle      time.Duration
	afterFunc AfterFunc
	announce  func(key string, isTyping bool)

	timer     Timer
	key       string
	announced bool

	// generation invalidates a timer that fired after being replaced.
	generation uint64
}

// NewTyping builds a debouncer that reports state changes through announce. A nil
// afterFunc uses time.AfterFunc.
func NewTyping(idle time.Duration, afterFunc AfterFunc, announce func(key string, isTyping bool)) *Typing {
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if idle <= 0 {
		idle = TypingIdle
	}
	return &Typing{idle: idle, afterFunc: afterFunc, announce: announce}
}

// Keystroke records input in key and re-arms the idle timer.
func (t *Typing) Keystroke(key string) {
	var calls []typingCall

	t.mu.Lock()
	if t.announced && t.key != key {
		calls = append(calls, typingCall{t.key, false})
		t.announced = false
	}
	calls = append(calls, typingCall{key, true})
	t.announced = true
	t.key = key

	t.stopTimer()
	t.generation++
	gen := t.generation
	t.timer = t.afterFunc(t.idle, func() { t.expire(gen) })
	t.mu.Unlock()

	t.emit(calls)
}

// Stop ends the typing state now, as on send or focus switch.
func (t *Typing) Stop() {
	var calls []typingCall

	t.mu.Lock()
	t.stopTimer()
	t.generation++
	if t.announced {
		calls = append(calls, typingCall{t.key, false})
		t.announced = false
	}
	t.mu.Unlock()

	t.emit(calls)
}

func (t *Typing) expire(gen uint64) {
	var calls []typingCall

	t.mu.Lock()
	if gen == t.generation && t.announced {
		calls = append(calls, typingCall{t.key, false})
		t.announced = false
		t.timer = nil
	}
	t.mu.Unlock()

	t.emit(calls)
}

func (t *Typing) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

type typingCall struct {
	key      string
	isTyping bool
}

// emit runs outside the lock: announce usually writes to the network.
func (t *Typing) emit(calls []typingCall) {
	for _, c := range calls {
		t.announce(c.key, c.isTyping)
	}
}
