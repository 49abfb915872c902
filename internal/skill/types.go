package skill

import "time"

// Visibility controls who can discover a skill.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
)

func ValidVisibility(v Visibility) bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityUnlisted:
		return true
	}
	return false
}

// Skill is a named, versioned procedure document.
type Skill struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	Visibility  Visibility `json:"visibility"`
	Avatar      string     `json:"avatar,omitempty"`
	Deleted     bool       `json:"deleted,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Version is one node of a skill's revision tree. Version numbers are
// append-only per skill; ParentVersionID points at the revision this one was
// derived from.
type Version struct {
	ID              string    `json:"id"`
	SkillID         string    `json:"skill_id"`
	Version         int       `json:"version"`
	Content         string    `json:"content"`
	CreatedBy       string    `json:"created_by"`
	ParentVersionID string    `json:"parent_version_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Summary is the compact form handed to the suggestion matcher.
type Summary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	Visibility  Visibility `json:"visibility"`
}

func summarize(s Skill) Summary {
	return Summary{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Tags:        s.Tags,
		Visibility:  s.Visibility,
	}
}
