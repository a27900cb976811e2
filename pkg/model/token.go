package model

import "time"

// Token is an opaque access credential. Only the SHA-256 hash is stored; the
// raw value is shown once at login.
type Token struct {
	ID        int64     `json:"id"`
	Hash      string    `json:"-"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired returns true if the token has expired. Zero ExpiresAt means no
// expiry.
func (t *Token) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}
