package chat

import "time"

// Role tags one conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation groups an ordered sequence of turns for one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one role-tagged message. Turns are immutable once written except
// the assistant turn that owns an in-flight stream, whose content is replaced
// exactly once when the stream completes.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	SkillID        string    `json:"skill_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SuggestionStatus is the lifecycle state of a mined suggestion.
// pending -> accepted|rejected, terminal once non-pending.
type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "pending"
	StatusAccepted SuggestionStatus = "accepted"
	StatusRejected SuggestionStatus = "rejected"
)

// Suggestion proposes reusing an existing skill in a conversation.
// Keyed by (conversation, skill): re-matching the same skill never
// duplicates, it only fills a missing reason.
type Suggestion struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	SkillID        string           `json:"skill_id"`
	TurnID         string           `json:"turn_id,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Status         SuggestionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}

// DraftSuggestion proposes saving the conversation as a new skill.
// Keyed by (conversation, triggering turn), idempotent like Suggestion.
type DraftSuggestion struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	TurnID         string           `json:"turn_id,omitempty"`
	Goal           string           `json:"goal"`
	Constraints    string           `json:"constraints,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Status         SuggestionStatus `json:"status"`
	CreatedSkillID string           `json:"created_skill_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
