/*
Package store is the durable message log and identity table behind the chat hub.

Every backend guarantees that AppendMessage calls are applied atomically and in a single
serial order, whatever the number of concurrent callers: the file and memory backends hold
a mutex across the whole read-modify-write, Postgres relies on row inserts, and Redis on
RPUSH. Load returns the persisted document shape {messages: {room: [...]}, users: [...]}.
*/
package store

import (
	"context"
	"errors"
	"fmt"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
)

var (
	// ErrUserExists is returned by CreateUser for a taken username.
	ErrUserExists = errors.New("store: user already exists")

	// ErrUserNotFound is returned by UpdateUser for an unknown username.
	ErrUserNotFound = errors.New("store: user not found")
)

// Document is the full persisted state.
type Document struct {
	Messages message.History `json:"messages"`
	Users    []user.Identity `json:"users"`
}

// Store is the persistence contract consumed by the directory and the hub.
type Store interface {
	// Load returns a snapshot of every room's messages and every identity.
	Load(ctx context.Context) (Document, error)

	// AppendMessage durably appends msg to room. When it returns nil the message
	// survives a restart.
	AppendMessage(ctx context.Context, room string, msg message.Message) error

	// CreateUser inserts a new identity, or returns ErrUserExists.
	CreateUser(ctx context.Context, identity user.Identity) error

	// UpdateUser replaces the email and avatar of an existing identity.
	UpdateUser(ctx context.Context, identity user.Identity) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Driver is one of "file", "memory", "postgres", "redis".
	Driver string

	// Path is the JSON document location for the file driver.
	Path string

	// DatabaseDSN is the Postgres connection string.
	DatabaseDSN string

	// RedisURL is the redis:// URL for the redis driver.
	RedisURL string
}

// Open constructs the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return OpenFile(cfg.Path)
	case "memory":
		return NewMemory(), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseDSN)
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// emptyDocument is the initial state: both fixed channels exist with no messages.
func emptyDocument(fixedRooms ...string) Document {
	doc := Document{Messages: make(message.History), Users: []user.Identity{}}
	for _, room := range fixedRooms {
		doc.Messages[room] = []message.Message{}
	}
	return doc
}
