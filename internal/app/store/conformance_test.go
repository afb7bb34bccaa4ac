package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
)

// checkBackend runs the behaviour every Store must share. Names carry a per-run suffix so
// the external backends can run against a database that already holds data.
func checkBackend(t *testing.T, s Store) {
	t.Helper()

	ctx := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	name := "conf-" + suffix
	key := "conf-room-" + suffix

	if err := s.CreateUser(ctx, user.Identity{Username: name, PasswordHash: "hash"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser(ctx, user.Identity{Username: name, PasswordHash: "other"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate CreateUser = %v, want ErrUserExists", err)
	}
	if err := s.UpdateUser(ctx, user.Identity{Username: name, Email: "e@example.com", Avatar: "a.png"}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if err := s.UpdateUser(ctx, user.Identity{Username: "missing-" + suffix}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("UpdateUser(missing) = %v, want ErrUserNotFound", err)
	}

	// registered in reverse name order, so a sort by name would swap them.
	later, earlier := "conf-z-"+suffix, "conf-a-"+suffix
	for _, n := range []string{later, earlier} {
		if err := s.CreateUser(ctx, user.Identity{Username: n, PasswordHash: "hash"}); err != nil {
			t.Fatalf("CreateUser(%s): %v", n, err)
		}
	}

	base := time.Now().UnixMilli()
	for i := int64(0); i < 3; i++ {
		msg := message.Message{ID: base + i, Room: key, Author: name, Text: fmt.Sprintf("m%d", i), Time: "12:00"}
		if err := s.AppendMessage(ctx, key, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, fixed := range FixedRooms {
		if _, ok := doc.Messages[fixed]; !ok {
			t.Errorf("fixed room %s missing", fixed)
		}
	}

	msgs := doc.Messages[key]
	if len(msgs) != 3 {
		t.Fatalf("room has %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != base+int64(i) || m.Text != fmt.Sprintf("m%d", i) {
			t.Errorf("message %d = %+v", i, m)
		}
	}

	var found bool
	for _, u := range doc.Users {
		if u.Username != name {
			continue
		}
		found = true
		if u.PasswordHash != "hash" || u.Email != "e@example.com" || u.Avatar != "a.png" {
			t.Errorf("identity = %+v", u)
		}
	}
	if !found {
		t.Errorf("identity %s not loaded", name)
	}

	position := make(map[string]int, len(doc.Users))
	for i, u := range doc.Users {
		position[u.Username] = i
	}
	if !(position[name] < position[later] && position[later] < position[earlier]) {
		t.Errorf("users not in registration order: %s=%d %s=%d %s=%d",
			name, position[name], later, position[later], earlier, position[earlier])
	}
}

func TestMemoryBackend(t *testing.T) {
	checkBackend(t, NewMemory())
}

func TestFileBackend(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatal(err)
	}
	checkBackend(t, s)
}

func TestRedisBackend(t *testing.T) {
	url := os.Getenv("RELAYCHAT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("RELAYCHAT_TEST_REDIS_URL not set")
	}

	s, err := OpenRedis(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	checkBackend(t, s)
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("RELAYCHAT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RELAYCHAT_TEST_DATABASE_URL not set")
	}

	s, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	checkBackend(t, s)
}
