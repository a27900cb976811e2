package model

import "time"

// User represents a registered user.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Name         string    `json:"name"`
	About        string    `json:"about,omitempty"`
	ProfileImage string    `json:"profile_image,omitempty"`
	IsOnline     bool      `json:"is_online"`
	LastSeen     time.Time `json:"last_seen"`
	PasswordHash []byte    `json:"-"`
	PasswordSalt []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the fields a client can set at registration time.
func (u *User) Validate() error {
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if err := ValidateName(u.Name); err != nil {
		return err
	}
	return nil
}

// Summary is the denormalized snapshot of a user cached on a live session and
// embedded in presence and room events. Staleness is accepted until reconnect.
type Summary struct {
	UserID       int64     `json:"userId"`
	Name         string    `json:"name"`
	ProfileImage string    `json:"profileImage,omitempty"`
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Summarize builds a Summary from the persisted user record.
func (u *User) Summarize() Summary {
	return Summary{
		UserID:       u.ID,
		Name:         u.Name,
		ProfileImage: u.ProfileImage,
		IsOnline:     u.IsOnline,
		LastSeen:     u.LastSeen,
	}
}
