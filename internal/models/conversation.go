package models

import "time"

// Role tags a turn with who produced it.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one persisted turn. Rows are never updated after insert.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Author         string    `json:"author"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	TokenEstimate  int       `json:"token_estimate"`
}

// Turn is a role-tagged entry of a context window.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type UserRecord struct {
	ConversationID int64     `json:"conversation_id"`
	DisplayName    string    `json:"display_name"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	MessageCount   int       `json:"message_count"`
}

// AccessEntry marks a conversation as allowed to use the bot.
type AccessEntry struct {
	ConversationID int64     `json:"conversation_id"`
	DisplayName    string    `json:"display_name"`
	GrantedBy      int64     `json:"granted_by"`
	GrantedAt      time.Time `json:"granted_at"`
}
