package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"relaychat/internal/app/message"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
)

const (
	// redisRoomsKey is a set of every room that has a message list.
	redisRoomsKey = "relaychat:rooms"

	// redisUsersKey is a hash username -> JSON identity.
	redisUsersKey = "relaychat:users"

	// redisUserOrderKey lists usernames in registration order.
	redisUserOrderKey = "relaychat:user-order"

	// redisMessagesKey is a list of JSON messages per room.
	redisMessagesKey = "relaychat:messages:%s"

	redisTxRetries = 5
)

// RedisStore keeps one list per room. RPUSH is atomic on the server, so appends from any
// number of hub instances land in one serial order. Users live in a hash, with a list
// beside it recording registration order.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// OpenRedis connects to url and pings the server.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	if url == "" {
		return nil, fmt.Errorf("store: redis driver requires REDIS_URL")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{client: client, logger: logx.Component("RedisStore")}, nil
}

func (s *RedisStore) Load(ctx context.Context) (Document, error) {
	doc := emptyDocument(FixedRooms...)

	rooms, err := s.client.SMembers(ctx, redisRoomsKey).Result()
	if err != nil {
		return Document{}, fmt.Errorf("list rooms: %w", err)
	}

	for _, room := range rooms {
		raw, err := s.client.LRange(ctx, fmt.Sprintf(redisMessagesKey, room), 0, -1).Result()
		if err != nil {
			return Document{}, fmt.Errorf("read room %s: %w", room, err)
		}

		msgs := make([]message.Message, 0, len(raw))
		for _, item := range raw {
			var m message.Message
			if err := json.Unmarshal([]byte(item), &m); err != nil {
				s.logger.Warn().Err(err).Str("room", room).Msg("Skipping undecodable message.")
				continue
			}
			msgs = append(msgs, m)
		}
		doc.Messages[room] = msgs
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return Document{}, err
	}
	doc.Users = users

	return doc, nil
}

// loadUsers returns identities in registration order. Hash entries missing from the order
// list follow, sorted by name.
func (s *RedisStore) loadUsers(ctx context.Context) ([]user.Identity, error) {
	rawUsers, err := s.client.HGetAll(ctx, redisUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	order, err := s.client.LRange(ctx, redisUserOrderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read user order: %w", err)
	}

	var rest []string
	listed := make(map[string]struct{}, len(order))
	for _, name := range order {
		listed[name] = struct{}{}
	}
	for name := range rawUsers {
		if _, ok := listed[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	users := make([]user.Identity, 0, len(rawUsers))
	for _, name := range append(order, rest...) {
		item, ok := rawUsers[name]
		if !ok {
			continue
		}
		delete(rawUsers, name)

		var u user.Identity
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			s.logger.Warn().Err(err).Str("username", name).Msg("Skipping undecodable user.")
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, room string, msg message.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, redisRoomsKey, room)
	pipe.RPush(ctx, fmt.Sprintf(redisMessagesKey, room), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append to room %s: %w", room, err)
	}
	return nil
}

func (s *RedisStore) CreateUser(ctx context.Context, identity user.Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	create := func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, redisUsersKey, identity.Username).Result()
		if err != nil {
			return fmt.Errorf("create user %s: %w", identity.Username, err)
		}
		if exists {
			return ErrUserExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisUsersKey, identity.Username, data)
			pipe.RPush(ctx, redisUserOrderKey, identity.Username)
			return nil
		})
		return err
	}

	// Any write to the users hash aborts the transaction; the retry sees it.
	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err = s.client.Watch(ctx, create, redisUsersKey)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("create user %s: %w", identity.Username, err)
}

func (s *RedisStore) UpdateUser(ctx context.Context, identity user.Identity) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, redisUsersKey, identity.Username).Result()
		if err == redis.Nil {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("read user %s: %w", identity.Username, err)
		}

		var current user.Identity
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("decode user %s: %w", identity.Username, err)
		}
		current.Email = identity.Email
		current.Avatar = identity.Avatar

		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisUsersKey, identity.Username, data)
			return nil
		})
		return err
	}, redisUsersKey)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
