package skill

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound        = errors.New("skill not found")
	ErrVersionNotFound = errors.New("skill version not found")
)

// CreateInput carries everything needed to create a skill with its first
// version. Callers run the inputs through the normalizer first.
type CreateInput struct {
	OwnerID     string
	Name        string
	Description string
	Tags        []string
	Visibility  Visibility
	Avatar      string
	Content     string
}

// MetadataUpdate holds optional fields for a metadata patch; nil means leave
// unchanged.
type MetadataUpdate struct {
	Description *string
	Tags        []string
	Visibility  *Visibility
	Avatar      *string
}

// Store persists skills and their version chains.
type Store interface {
	// Create writes the skill and its version 1 together.
	Create(ctx context.Context, in CreateInput) (Skill, Version, error)
	Get(ctx context.Context, id string) (Skill, error)
	UpdateMetadata(ctx context.Context, id string, upd MetadataUpdate) (Skill, error)
	// SoftDelete hides the skill from listings; versions are retained.
	SoftDelete(ctx context.Context, id string) error

	LatestVersion(ctx context.Context, skillID string) (Version, error)
	GetVersion(ctx context.Context, skillID string, number int) (Version, error)
	// CreateVersion appends the next version number. An empty parent
	// defaults to the current latest version.
	CreateVersion(ctx context.Context, skillID, content, createdBy, parentVersionID string) (Version, error)
	ListVersions(ctx context.Context, skillID string) ([]Version, error)

	// ListVisible returns the user's own skills plus all public ones,
	// deduplicated, soft-deleted excluded.
	ListVisible(ctx context.Context, userID string) ([]Skill, error)
	// Summaries is the miner candidate set for a user.
	Summaries(ctx context.Context, userID string) ([]Summary, error)
	// Search filters visible skills by name/description/tag substring.
	Search(ctx context.Context, userID, query string) ([]Skill, error)

	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

func matchesQuery(s Skill, q string) bool {
	q = strings.ToLower(q)
	if strings.Contains(strings.ToLower(s.Name), q) || strings.Contains(strings.ToLower(s.Description), q) {
		return true
	}
	for _, tag := range s.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

func visibleTo(s Skill, userID string) bool {
	if s.Deleted {
		return false
	}
	return s.OwnerID == userID || s.Visibility == VisibilityPublic
}
