// Package message defines the immutable chat message and the per-room history shape.
package message

// Message is created by the fan-out engine and never mutated afterwards.
// The JSON names are the wire and document names.
type Message struct {
	// ID increases strictly within a process and across restarts of the same log.
	ID int64 `json:"id"`

	Room string `json:"room"`

	Author string `json:"user"`

	Text string `json:"text"`

	// Time is the server-clock HH:MM of submission.
	Time string `json:"time"`

	// Avatar is the author's avatar at send time; later profile changes do not touch it.
	Avatar string `json:"avatar"`
}

// History maps a room key to its messages in append order.
type History map[string][]Message

// MaxID returns the largest message id in h, or 0.
func (h History) MaxID() int64 {
	var max int64
	for _, msgs := range h {
		for _, m := range msgs {
			if m.ID > max {
				max = m.ID
			}
		}
	}
	return max
}

// Clone returns a copy of h whose slices do not alias h's.
func (h History) Clone() History {
	out := make(History, len(h))
	for room, msgs := range h {
		out[room] = append([]Message(nil), msgs...)
	}
	return out
}
