package user

import "testing"

func TestValidUsername(t *testing.T) {
	valid := []string{"alice", "Bob", "carol.d", "dan-42", "abc"}
	invalid := []string{"", "ab", "has_underscore", "white space", "emoji😀", "a234567890123456789012345678901234"}

	for _, name := range valid {
		if !ValidUsername(name) {
			t.Errorf("ValidUsername(%q) = false", name)
		}
	}
	for _, name := range invalid {
		if ValidUsername(name) {
			t.Errorf("ValidUsername(%q) = true", name)
		}
	}
}

func TestAvatarFallsBackToPlaceholder(t *testing.T) {
	id := Identity{Username: "alice", PasswordHash: "secret"}

	if got := id.Profile().Avatar; got != DefaultAvatar {
		t.Errorf("avatar = %q, want placeholder", got)
	}

	id.Avatar = "https://cdn.example/a.png"
	if got := id.Account().Avatar; got != id.Avatar {
		t.Errorf("avatar = %q", got)
	}
}
