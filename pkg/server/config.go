package server

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mkarlsson/chatrelay/pkg/auth"
	"github.com/mkarlsson/chatrelay/pkg/datastore"
	"github.com/mkarlsson/chatrelay/pkg/model"
)

// UserYAML represents a user in the YAML seed file and in exports.
type UserYAML struct {
	ID        int64  `yaml:"id,omitempty"`
	Email     string `yaml:"email"`
	Name      string `yaml:"name"`
	Password  string `yaml:"password,omitempty"` // seed only, never exported
	About     string `yaml:"about,omitempty"`
	CreatedAt string `yaml:"created_at,omitempty"`
}

// ConversationYAML represents a conversation in the YAML seed file.
// Participants are referenced by email.
type ConversationYAML struct {
	Participants []string `yaml:"participants"`
	GroupName    string   `yaml:"group_name,omitempty"`
}

// SeedConfig is the top-level YAML seed file.
type SeedConfig struct {
	Users         []UserYAML         `yaml:"users"`
	Conversations []ConversationYAML `yaml:"conversations"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// LoadSeedFromYAML reads a seed file and creates any users and conversations
// it defines that do not exist yet.
func LoadSeedFromYAML(path string, st datastore.DataStore, authsvc *auth.Service) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read seed config: %w", err)
	}
	return ImportSeedFromYAML(data, st, authsvc)
}

// ImportSeedFromYAML parses YAML data and creates users and conversations.
// Existing users (matched by email) are left untouched.
func ImportSeedFromYAML(data []byte, st datastore.DataStore, authsvc *auth.Service) error {
	var cfg SeedConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse seed config: %w", err)
	}

	idByEmail := make(map[string]int64)
	created := 0
	for _, u := range cfg.Users {
		existing, err := st.GetUserByEmail(u.Email)
		if err != nil {
			return fmt.Errorf("seed: lookup user %s: %w", u.Email, err)
		}
		if existing != nil {
			idByEmail[u.Email] = existing.ID
			continue
		}

		var user *model.User
		if u.Password != "" {
			user, err = authsvc.Register(u.Email, u.Name, u.Password)
		} else {
			user = &model.User{Email: u.Email, Name: u.Name, About: u.About}
			err = st.CreateUser(user)
		}
		if err != nil {
			slog.Error("failed to seed user", "email", u.Email, "err", err)
			continue
		}
		idByEmail[u.Email] = user.ID
		created++
	}

	for _, c := range cfg.Conversations {
		if err := ensureConversation(st, c, idByEmail); err != nil {
			slog.Error("failed to seed conversation", "participants", c.Participants, "err", err)
		}
	}

	slog.Info("imported seed config", "users_created", created, "conversations", len(cfg.Conversations))
	return nil
}

func ensureConversation(st datastore.DataStore, c ConversationYAML, idByEmail map[string]int64) error {
	participants := make([]int64, 0, len(c.Participants))
	for _, email := range c.Participants {
		id, ok := idByEmail[email]
		if !ok {
			user, err := st.GetUserByEmail(email)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("unknown participant %s", email)
			}
			id = user.ID
			idByEmail[email] = id
		}
		participants = append(participants, id)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })

	// Skip if an identical conversation already exists.
	if len(participants) > 0 {
		existing, err := st.ListConversationsByParticipant(participants[0])
		if err != nil {
			return err
		}
		for _, conv := range existing {
			if sameParticipants(conv.Participants, participants) && conv.GroupName == c.GroupName {
				return nil
			}
		}
	}

	conv := &model.Conversation{
		Participants: participants,
		IsGroup:      c.GroupName != "",
		GroupName:    c.GroupName,
	}
	if conv.IsGroup && len(participants) > 0 {
		conv.GroupAdmin = participants[0]
	}
	return st.CreateConversation(conv)
}

func sameParticipants(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int64(nil), a...)
	bs := append([]int64(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// ExportUsersYAML exports all users as YAML. Password material is never
// included.
func ExportUsersYAML(st datastore.DataStore) ([]byte, error) {
	users, err := st.ListUsers()
	if err != nil {
		return nil, err
	}

	export := UsersExport{}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			ID:        u.ID,
			Email:     u.Email,
			Name:      u.Name,
			About:     u.About,
			CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
