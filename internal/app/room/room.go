// Package room names the delivery channels: the two fixed channels and the derived
// private room of every pair of identities.
package room

import "strings"

const (
	// Broadcast is the shared channel every identity can post to.
	Broadcast = "general"

	// Secondary is the second fixed channel.
	Secondary = "spam"

	// Separator joins the two participants of a private room. Usernames cannot contain it.
	Separator = "_"
)

// Fixed lists the channels that exist independently of the directory.
var Fixed = []string{Broadcast, Secondary}

// DerivePrivateRoom returns the canonical room of the conversation between a and b:
// the two names sorted and joined by Separator, so the result does not depend on order.
func DerivePrivateRoom(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// IsPrivate reports whether key is a derived private room.
func IsPrivate(key string) bool {
	return strings.Contains(key, Separator)
}

// Peer returns the participant of a private room other than self.
func Peer(key, self string) (string, bool) {
	first, second, ok := strings.Cut(key, Separator)
	if !ok {
		return "", false
	}

	switch self {
	case first:
		return second, true
	case second:
		return first, true
	}
	return "", false
}

// Reachable lists every room username can ever receive messages in, given the directory:
// the fixed channels plus one private room per other identity.
func Reachable(username string, directory []string) []string {
	rooms := make([]string, 0, len(Fixed)+len(directory))
	rooms = append(rooms, Fixed...)

	for _, other := range directory {
		if other == username {
			continue
		}
		rooms = append(rooms, DerivePrivateRoom(username, other))
	}

	return rooms
}
