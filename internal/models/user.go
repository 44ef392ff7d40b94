package models

import "time"

// User is the identity resolved from a token. It is read-only once resolved.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Email     string
	Avatar    string
}

// UserSummary is the user shape carried by outbound events.
type UserSummary struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar,omitempty"`
}

// Summarize shapes a user for the wire. Email never leaves the server.
func Summarize(u *User) UserSummary {
	if u == nil {
		return UserSummary{}
	}
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Avatar:    u.Avatar,
	}
}

type Conversation struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Content        string
	CreatedAt      time.Time
}
