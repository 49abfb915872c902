package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
	turns         map[string]Turn
	turnOrder     map[string][]string
	suggestions   map[string]Suggestion
	drafts        map[string]DraftSuggestion
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]Conversation),
		turns:         make(map[string]Turn),
		turnOrder:     make(map[string][]string),
		suggestions:   make(map[string]Suggestion),
		drafts:        make(map[string]DraftSuggestion),
	}
}

func (s *InMemoryStore) CreateConversation(_ context.Context, userID, title string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	s.conversations[c.ID] = c
	return c, nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, userID string, limit, offset int) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sortByCreatedDesc(out, func(c Conversation) time.Time { return c.CreatedAt })
	return window(out, limit, offset), nil
}

func (s *InMemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	for _, turnID := range s.turnOrder[id] {
		delete(s.turns, turnID)
	}
	delete(s.turnOrder, id)
	for sid, sg := range s.suggestions {
		if sg.ConversationID == id {
			delete(s.suggestions, sid)
		}
	}
	for did, d := range s.drafts {
		if d.ConversationID == id {
			delete(s.drafts, did)
		}
	}
	return nil
}

func (s *InMemoryStore) CreateTurn(_ context.Context, turn Turn) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[turn.ConversationID]; !ok {
		return Turn{}, ErrNotFound
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[turn.ID] = turn
	s.turnOrder[turn.ConversationID] = append(s.turnOrder[turn.ConversationID], turn.ID)
	return turn, nil
}

func (s *InMemoryStore) GetTurn(_ context.Context, id string) (Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.turns[id]
	if !ok {
		return Turn{}, ErrNotFound
	}
	return t, nil
}

func (s *InMemoryStore) ListTurns(_ context.Context, conversationID string, limit, offset int) ([]Turn, error) {
	if limit <= 0 {
		limit = defaultTurnLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.turnOrder[conversationID]
	out := make([]Turn, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.turns[id])
	}
	return window(out, limit, offset), nil
}

func (s *InMemoryStore) UpdateTurnContent(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.turns[id]
	if !ok {
		return ErrNotFound
	}
	t.Content = content
	s.turns[id] = t
	return nil
}

func (s *InMemoryStore) ListSuggestions(_ context.Context, conversationID string, status SuggestionStatus) ([]Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Suggestion
	for _, sg := range s.suggestions {
		if sg.ConversationID != conversationID {
			continue
		}
		if status != "" && sg.Status != status {
			continue
		}
		out = append(out, sg)
	}
	sortByCreatedAsc(out, func(sg Suggestion) time.Time { return sg.CreatedAt })
	return out, nil
}

func (s *InMemoryStore) HasRejectedSuggestion(_ context.Context, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sg := range s.suggestions {
		if sg.ConversationID == conversationID && sg.Status == StatusRejected {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) UpsertSuggestion(_ context.Context, sg Suggestion) (Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.suggestions {
		if existing.ConversationID == sg.ConversationID && existing.SkillID == sg.SkillID {
			if sg.Reason != "" && existing.Reason == "" {
				existing.Reason = sg.Reason
				s.suggestions[id] = existing
			}
			return existing, nil
		}
	}
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}
	sg.Status = StatusPending
	s.suggestions[sg.ID] = sg
	return sg, nil
}

func (s *InMemoryStore) GetSuggestion(_ context.Context, id string) (Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sg, ok := s.suggestions[id]
	if !ok {
		return Suggestion{}, ErrNotFound
	}
	return sg, nil
}

func (s *InMemoryStore) UpdateSuggestionStatus(_ context.Context, id string, status SuggestionStatus) (Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.suggestions[id]
	if !ok {
		return Suggestion{}, ErrNotFound
	}
	if sg.Status != StatusPending {
		return Suggestion{}, ErrConflict
	}
	sg.Status = status
	s.suggestions[id] = sg
	return sg, nil
}

func (s *InMemoryStore) ListDraftSuggestions(_ context.Context, conversationID string, status SuggestionStatus) ([]DraftSuggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DraftSuggestion
	for _, d := range s.drafts {
		if d.ConversationID != conversationID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d)
	}
	sortByCreatedAsc(out, func(d DraftSuggestion) time.Time { return d.CreatedAt })
	return out, nil
}

func (s *InMemoryStore) HasRejectedDraft(_ context.Context, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.drafts {
		if d.ConversationID == conversationID && d.Status == StatusRejected {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) UpsertDraftSuggestion(_ context.Context, d DraftSuggestion) (DraftSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.drafts {
		if existing.ConversationID == d.ConversationID && existing.TurnID == d.TurnID {
			if d.Reason != "" && existing.Reason == "" {
				existing.Reason = d.Reason
				s.drafts[id] = existing
			}
			return existing, nil
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.Status = StatusPending
	s.drafts[d.ID] = d
	return d, nil
}

func (s *InMemoryStore) GetDraftSuggestion(_ context.Context, id string) (DraftSuggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return DraftSuggestion{}, ErrNotFound
	}
	return d, nil
}

func (s *InMemoryStore) UpdateDraftStatus(_ context.Context, id string, status SuggestionStatus, createdSkillID string) (DraftSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return DraftSuggestion{}, ErrNotFound
	}
	if d.Status != StatusPending {
		return DraftSuggestion{}, ErrConflict
	}
	d.Status = status
	if createdSkillID != "" {
		d.CreatedSkillID = createdSkillID
	}
	s.drafts[id] = d
	return d, nil
}

func (s *InMemoryStore) Close() error { return nil }

func window[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sortByCreatedAsc[T any](items []T, created func(T) time.Time) {
	sort.Slice(items, func(i, j int) bool { return created(items[i]).Before(created(items[j])) })
}

func sortByCreatedDesc[T any](items []T, created func(T) time.Time) {
	sort.Slice(items, func(i, j int) bool { return created(items[i]).After(created(items[j])) })
}
