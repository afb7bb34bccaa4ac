/*
Package directory is the identity directory: registration, credential checks and profile
updates, backed by a store.Store and cached in memory for the hub's membership lookups.
*/
package directory

import (
	"context"
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"relaychat/internal/app/store"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

const (
	minPasswordLen = 6

	// bcrypt ignores input beyond 72 bytes.
	maxPasswordLen = 72

	maxEmailLen  = 254
	maxAvatarLen = 2048
)

// Directory caches every identity in registration order.
type Directory struct {
	store store.Store
	cost  int

	mu    sync.RWMutex
	users map[string]user.Identity
	order []string

	logger zerolog.Logger
}

// New builds a directory over st seeded with the identities already persisted.
// cost is the bcrypt cost; 0 means bcrypt.DefaultCost.
func New(st store.Store, identities []user.Identity, cost int) *Directory {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	d := &Directory{
		store:  st,
		cost:   cost,
		users:  make(map[string]user.Identity, len(identities)),
		logger: logx.Component("Directory"),
	}

	for _, identity := range identities {
		if _, dup := d.users[identity.Username]; dup {
			continue
		}
		d.users[identity.Username] = identity
		d.order = append(d.order, identity.Username)
	}

	return d
}

// Register creates an identity. Errors are *errs.CustomError: ErrInvalidUsername,
// ErrInvalidPassword, ErrUserAlreadyExists or ErrUnknown.
func (d *Directory) Register(ctx context.Context, username, password string) (user.Identity, error) {
	if !user.ValidUsername(username) {
		return user.Identity{}, errs.NewError(errs.ErrInvalidUsername)
	}

	if n := utf8.RuneCountInString(password); n < minPasswordLen || len(password) > maxPasswordLen {
		return user.Identity{}, errs.NewError(errs.ErrInvalidPassword)
	}

	if _, exists := d.Lookup(username); exists {
		return user.Identity{}, errs.NewError(errs.ErrUserAlreadyExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return user.Identity{}, errs.NewError(errs.ErrUnknown, err)
	}

	identity := user.Identity{Username: username, PasswordHash: string(hash)}

	if err := d.store.CreateUser(ctx, identity); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return user.Identity{}, errs.NewError(errs.ErrUserAlreadyExists)
		}
		d.logger.Error().Err(err).Str("username", username).Msg("Failed to persist new identity.")
		return user.Identity{}, errs.NewError(errs.ErrUnknown, err)
	}

	d.mu.Lock()
	if _, exists := d.users[username]; !exists {
		d.order = append(d.order, username)
	}
	d.users[username] = identity
	d.mu.Unlock()

	d.logger.Info().Str("username", username).Msg("Identity registered.")
	return identity, nil
}

// Authenticate checks credentials and returns the identity, or ErrInvalidCredentials.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (user.Identity, error) {
	identity, ok := d.Lookup(username)
	if !ok {
		d.logger.Debug().Str("username", username).Msg("Login for unknown identity.")
		return user.Identity{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		d.logger.Debug().Str("username", username).Msg("Login password mismatch.")
		return user.Identity{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	return identity, nil
}

// Lookup returns the identity registered under username.
func (d *Directory) Lookup(username string) (user.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	identity, ok := d.users[username]
	return identity, ok
}

// Usernames returns every registered username in registration order.
func (d *Directory) Usernames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]string(nil), d.order...)
}

// Profiles returns the public directory in registration order, with current avatars.
func (d *Directory) Profiles() []user.Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()

	profiles := make([]user.Profile, 0, len(d.order))
	for _, name := range d.order {
		profiles = append(profiles, d.users[name].Profile())
	}
	return profiles
}

// UpdateProfile stores a new email and avatar for username.
func (d *Directory) UpdateProfile(ctx context.Context, username, email, avatar string) (user.Identity, error) {
	if len(email) > maxEmailLen || len(avatar) > maxAvatarLen {
		return user.Identity{}, errs.NewError(errs.ErrInvalidParams)
	}

	identity, ok := d.Lookup(username)
	if !ok {
		return user.Identity{}, errs.NewError(errs.ErrUserNotFound)
	}

	identity.Email = email
	identity.Avatar = avatar

	if err := d.store.UpdateUser(ctx, identity); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return user.Identity{}, errs.NewError(errs.ErrUserNotFound)
		}
		d.logger.Error().Err(err).Str("username", username).Msg("Failed to persist profile.")
		return user.Identity{}, errs.NewError(errs.ErrUnknown, err)
	}

	d.mu.Lock()
	d.users[username] = identity
	d.mu.Unlock()

	return identity, nil
}
