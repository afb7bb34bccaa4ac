package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"relaychat/internal/app/db"
	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
)

// PostgresStore keeps identities and messages in two tables. Each append is a single-row
// insert keyed by the message id, so concurrent appends cannot overwrite each other.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: postgres driver requires DATABASE_URL")
	}

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool, logger: logx.Component("PostgresStore")}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (Document, error) {
	doc := emptyDocument(FixedRooms...)

	rows, err := s.pool.Query(ctx,
		`SELECT id, room, author, body, send_time, avatar_url FROM messages ORDER BY id`)
	if err != nil {
		return Document{}, fmt.Errorf("query messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (message.Message, error) {
		var m message.Message
		err := row.Scan(&m.ID, &m.Room, &m.Author, &m.Text, &m.Time, &m.Avatar)
		return m, err
	})
	if err != nil {
		return Document{}, fmt.Errorf("scan messages: %w", err)
	}
	for _, m := range msgs {
		doc.Messages[m.Room] = append(doc.Messages[m.Room], m)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT username, password_hash, email, avatar_url FROM users ORDER BY created_at, username`)
	if err != nil {
		return Document{}, fmt.Errorf("query users: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (user.Identity, error) {
		var u user.Identity
		err := row.Scan(&u.Username, &u.PasswordHash, &u.Email, &u.Avatar)
		return u, err
	})
	if err != nil {
		return Document{}, fmt.Errorf("scan users: %w", err)
	}
	doc.Users = users

	s.logger.Info().Int("messages", len(msgs)).Int("users", len(users)).Msg("Document loaded.")
	return doc, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, room string, msg message.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, room, author, body, send_time, avatar_url) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, room, msg.Author, msg.Text, msg.Time, msg.Avatar)
	if err != nil {
		return fmt.Errorf("insert message %d: %w", msg.ID, err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, identity user.Identity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, email, avatar_url) VALUES ($1, $2, $3, $4)`,
		identity.Username, identity.PasswordHash, identity.Email, identity.Avatar)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user %s: %w", identity.Username, err)
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, identity user.Identity) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET email = $2, avatar_url = $3 WHERE username = $1`,
		identity.Username, identity.Email, identity.Avatar)
	if err != nil {
		return fmt.Errorf("update user %s: %w", identity.Username, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
