package skill

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps skills in process memory for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	skills   map[string]Skill
	versions map[string][]Version
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		skills:   make(map[string]Skill),
		versions: make(map[string][]Version),
	}
}

func (s *InMemoryStore) Create(_ context.Context, in CreateInput) (Skill, Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := Skill{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		Name:        in.Name,
		Description: in.Description,
		Tags:        append([]string(nil), in.Tags...),
		Visibility:  EnsureVisibility(in.Visibility),
		Avatar:      in.Avatar,
		CreatedAt:   time.Now().UTC(),
	}
	v := Version{
		ID:        uuid.NewString(),
		SkillID:   sk.ID,
		Version:   1,
		Content:   in.Content,
		CreatedBy: in.OwnerID,
		CreatedAt: sk.CreatedAt,
	}
	s.skills[sk.ID] = sk
	s.versions[sk.ID] = []Version{v}
	return sk, v, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.skills[id]
	if !ok || sk.Deleted {
		return Skill{}, ErrNotFound
	}
	return sk, nil
}

func (s *InMemoryStore) UpdateMetadata(_ context.Context, id string, upd MetadataUpdate) (Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.skills[id]
	if !ok || sk.Deleted {
		return Skill{}, ErrNotFound
	}
	if upd.Description != nil {
		sk.Description = *upd.Description
	}
	if upd.Tags != nil {
		sk.Tags = append([]string(nil), upd.Tags...)
	}
	if upd.Visibility != nil {
		sk.Visibility = *upd.Visibility
	}
	if upd.Avatar != nil {
		sk.Avatar = *upd.Avatar
	}
	s.skills[id] = sk
	return sk, nil
}

func (s *InMemoryStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.skills[id]
	if !ok || sk.Deleted {
		return ErrNotFound
	}
	sk.Deleted = true
	s.skills[id] = sk
	return nil
}

func (s *InMemoryStore) LatestVersion(_ context.Context, skillID string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versions[skillID]
	if len(versions) == 0 {
		return Version{}, ErrVersionNotFound
	}
	return versions[len(versions)-1], nil
}

func (s *InMemoryStore) GetVersion(_ context.Context, skillID string, number int) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions[skillID] {
		if v.Version == number {
			return v, nil
		}
	}
	return Version{}, ErrVersionNotFound
}

func (s *InMemoryStore) CreateVersion(_ context.Context, skillID, content, createdBy, parentVersionID string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.skills[skillID]
	if !ok || sk.Deleted {
		return Version{}, ErrNotFound
	}
	versions := s.versions[skillID]
	if len(versions) == 0 {
		return Version{}, ErrVersionNotFound
	}
	latest := versions[len(versions)-1]
	if parentVersionID == "" {
		parentVersionID = latest.ID
	}
	v := Version{
		ID:              uuid.NewString(),
		SkillID:         skillID,
		Version:         latest.Version + 1,
		Content:         content,
		CreatedBy:       createdBy,
		ParentVersionID: parentVersionID,
		CreatedAt:       time.Now().UTC(),
	}
	s.versions[skillID] = append(versions, v)
	return v, nil
}

func (s *InMemoryStore) ListVersions(_ context.Context, skillID string) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versions[skillID]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return append([]Version(nil), versions...), nil
}

func (s *InMemoryStore) ListVisible(_ context.Context, userID string) ([]Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Skill
	for _, sk := range s.skills {
		if visibleTo(sk, userID) {
			out = append(out, sk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Summaries(ctx context.Context, userID string) ([]Summary, error) {
	skills, err := s.ListVisible(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(skills))
	for _, sk := range skills {
		out = append(out, summarize(sk))
	}
	return out, nil
}

func (s *InMemoryStore) Search(ctx context.Context, userID, query string) ([]Skill, error) {
	skills, err := s.ListVisible(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []Skill
	for _, sk := range skills {
		if matchesQuery(sk, query) {
			out = append(out, sk)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
