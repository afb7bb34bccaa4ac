package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
)

// FileStore persists the whole document as one JSON file. Each mutation rewrites the file
// through a temp file and rename while holding the document lock, so appends from
// concurrent connections are serialized and a crash never leaves a torn file.
type FileStore struct {
	mem    Memory
	path   string
	logger zerolog.Logger
}

// OpenFile loads path if it exists, or starts from an empty document.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		path = "db.json"
	}

	s := &FileStore{
		mem:    Memory{doc: emptyDocument(FixedRooms...)},
		path:   path,
		logger: logx.Component("FileStore").With().Str("path", path).Logger(),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info().Msg("No document on disk, starting empty.")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Messages == nil {
		doc.Messages = make(message.History)
	}
	for _, room := range FixedRooms {
		if _, ok := doc.Messages[room]; !ok {
			doc.Messages[room] = []message.Message{}
		}
	}
	s.mem.doc = doc

	s.logger.Info().Int("users", len(doc.Users)).Int("rooms", len(doc.Messages)).Msg("Document loaded.")
	return s, nil
}

func (s *FileStore) Load(ctx context.Context) (Document, error) {
	return s.mem.Load(ctx)
}

func (s *FileStore) AppendMessage(ctx context.Context, room string, msg message.Message) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	prev, existed := s.mem.doc.Messages[room]
	s.mem.doc.Messages[room] = append(prev, msg)

	if err := s.flush(); err != nil {
		if existed {
			s.mem.doc.Messages[room] = prev
		} else {
			delete(s.mem.doc.Messages, room)
		}
		return err
	}

	return nil
}

func (s *FileStore) CreateUser(ctx context.Context, identity user.Identity) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	if s.mem.indexOf(identity.Username) >= 0 {
		return ErrUserExists
	}

	s.mem.doc.Users = append(s.mem.doc.Users, identity)

	if err := s.flush(); err != nil {
		s.mem.doc.Users = s.mem.doc.Users[:len(s.mem.doc.Users)-1]
		return err
	}

	return nil
}

func (s *FileStore) UpdateUser(ctx context.Context, identity user.Identity) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	i := s.mem.indexOf(identity.Username)
	if i < 0 {
		return ErrUserNotFound
	}

	prev := s.mem.doc.Users[i]
	s.mem.doc.Users[i].Email = identity.Email
	s.mem.doc.Users[i].Avatar = identity.Avatar

	if err := s.flush(); err != nil {
		s.mem.doc.Users[i] = prev
		return err
	}

	return nil
}

func (s *FileStore) Close() error { return nil }

// flush must be called with the document lock held.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.mem.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	return nil
}
