package chat

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrForbidden marks an ownership mismatch on an existing record.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks an invariant violation such as resolving an
	// already-resolved suggestion.
	ErrConflict = errors.New("conflicting state")
)

// defaultTurnLimit is the page size when ListTurns is called without a
// positive limit, identical across store implementations.
const defaultTurnLimit = 50

// Store persists conversations, turns, and mined suggestions.
type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	CreateTurn(ctx context.Context, turn Turn) (Turn, error)
	GetTurn(ctx context.Context, id string) (Turn, error)
	// ListTurns returns turns in chronological order. A non-positive limit
	// falls back to defaultTurnLimit.
	ListTurns(ctx context.Context, conversationID string, limit, offset int) ([]Turn, error)
	UpdateTurnContent(ctx context.Context, id, content string) error

	// ListSuggestions filters by status when status is non-empty.
	ListSuggestions(ctx context.Context, conversationID string, status SuggestionStatus) ([]Suggestion, error)
	HasRejectedSuggestion(ctx context.Context, conversationID string) (bool, error)
	// UpsertSuggestion inserts a pending suggestion keyed by
	// (conversation, skill); when the key already exists it only fills a
	// previously-empty reason and returns the existing record.
	UpsertSuggestion(ctx context.Context, s Suggestion) (Suggestion, error)
	GetSuggestion(ctx context.Context, id string) (Suggestion, error)
	// UpdateSuggestionStatus resolves a pending suggestion; returns
	// ErrConflict when it is already resolved.
	UpdateSuggestionStatus(ctx context.Context, id string, status SuggestionStatus) (Suggestion, error)

	ListDraftSuggestions(ctx context.Context, conversationID string, status SuggestionStatus) ([]DraftSuggestion, error)
	HasRejectedDraft(ctx context.Context, conversationID string) (bool, error)
	// UpsertDraftSuggestion mirrors UpsertSuggestion, keyed by
	// (conversation, triggering turn).
	UpsertDraftSuggestion(ctx context.Context, d DraftSuggestion) (DraftSuggestion, error)
	GetDraftSuggestion(ctx context.Context, id string) (DraftSuggestion, error)
	UpdateDraftStatus(ctx context.Context, id string, status SuggestionStatus, createdSkillID string) (DraftSuggestion, error)

	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
