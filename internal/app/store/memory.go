package store

import (
	"context"
	"sync"

	"relaychat/internal/app/message"
	"relaychat/internal/app/room"
	"relaychat/internal/app/user"
)

// FixedRooms are pre-created in a fresh document.
var FixedRooms = room.Fixed

// Memory keeps the document in process memory. It is the backing state of FileStore and
// serves as the "memory" driver for development and tests.
type Memory struct {
	mu  sync.Mutex
	doc Document
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{doc: emptyDocument(FixedRooms...)}
}

func (m *Memory) Load(ctx context.Context) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]user.Identity, len(m.doc.Users))
	copy(users, m.doc.Users)

	return Document{Messages: m.doc.Messages.Clone(), Users: users}, nil
}

func (m *Memory) AppendMessage(ctx context.Context, room string, msg message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc.Messages[room] = append(m.doc.Messages[room], msg)
	return nil
}

func (m *Memory) CreateUser(ctx context.Context, identity user.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(identity.Username) >= 0 {
		return ErrUserExists
	}

	m.doc.Users = append(m.doc.Users, identity)
	return nil
}

func (m *Memory) UpdateUser(ctx context.Context, identity user.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(identity.Username)
	if i < 0 {
		return ErrUserNotFound
	}

	m.doc.Users[i].Email = identity.Email
	m.doc.Users[i].Avatar = identity.Avatar
	return nil
}

func (m *Memory) Close() error { return nil }

// indexOf must be called with mu held.
func (m *Memory) indexOf(username string) int {
	for i, u := range m.doc.Users {
		if u.Username == username {
			return i
		}
	}
	return -1
}
