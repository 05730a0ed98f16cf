package domain

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // Never return password in JSON
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Provider  string    `json:"provider"` // "email", "google" or "imap"

	// Google OAuth mailbox credentials. AccessToken is refreshed in place
	// when the provider reports a new token.
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`

	// IMAP mailbox credentials. ImapPassword is stored encrypted.
	ImapServer   string `json:"imap_server,omitempty"`
	ImapPort     int    `json:"imap_port,omitempty"`
	ImapUsername string `json:"imap_username,omitempty"`
	ImapPassword string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasMailbox reports whether the user has any mailbox connected.
func (u *User) HasMailbox() bool {
	return u.HasGoogleMailbox() || u.HasImapMailbox()
}

func (u *User) HasGoogleMailbox() bool {
	return u.Provider == "google" && u.AccessToken != ""
}

func (u *User) HasImapMailbox() bool {
	return u.ImapServer != "" && u.ImapPassword != ""
}

type RefreshToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
