/*
Package user defines the identity records kept in the directory and the public profile
shape sent to clients.
*/
package user

import "regexp"

// DefaultAvatar is rendered for identities that never set an avatar.
const DefaultAvatar = "/img/avatar-placeholder.png"

// usernamePattern excludes '_', the private room separator.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9.-]{3,32}$`)

// Identity is a registered account. Username is the unique, case-sensitive key.
type Identity struct {
	Username string `json:"username"`

	// PasswordHash is a bcrypt hash owned by the directory. Never sent to clients.
	PasswordHash string `json:"password"`

	Email string `json:"email"`

	// Avatar is the URL the identity chose, empty for the placeholder.
	Avatar string `json:"avatar"`
}

// Profile is the directory entry clients see in rosters and user-updated events.
type Profile struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Account is what the identity itself sees after login or profile-saved.
type Account struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// Profile returns the public directory entry of the identity.
func (i Identity) Profile() Profile {
	return Profile{Username: i.Username, Avatar: i.AvatarURL()}
}

// Account returns the identity without its password hash.
func (i Identity) Account() Account {
	return Account{Username: i.Username, Email: i.Email, Avatar: i.AvatarURL()}
}

// AvatarURL returns the chosen avatar or DefaultAvatar.
func (i Identity) AvatarURL() string {
	if i.Avatar == "" {
		return DefaultAvatar
	}
	return i.Avatar
}

// ValidUsername reports whether name may be registered.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}
