package skill

import (
	"context"
	"fmt"
	"strings"

	"github.com/wendui/wendui/internal/llm"
)

// Generated is the normalized result of a model-backed skill generation.
type Generated struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	Visibility  Visibility `json:"visibility"`
	Content     string     `json:"content"`
	Warnings    []string   `json:"warnings,omitempty"`
}

// Generator turns a mined goal into a complete structured skill.
type Generator struct {
	client        llm.Client
	maxContentLen int
}

func NewGenerator(client llm.Client, maxContentLen int) *Generator {
	return &Generator{client: client, maxContentLen: maxContentLen}
}

const generatorSystemPrompt = `You are a strict skill generator. Respond with a single JSON object with keys ` +
	`"name", "description", "tags", "visibility", and "content". No extra commentary.`

func (g *Generator) buildPrompt(goal, constraints string) string {
	parts := []string{
		"Generate a reusable skill document for the goal below.",
		"- name must contain only lowercase letters, numbers, and hyphens",
		"- description must say what the skill does and when to use it",
		"- tags: 3 to 6 short tags",
		"- content must be a complete SKILL.md with front matter, an Instructions section, and an Examples section",
		fmt.Sprintf("- content must not exceed %d characters", g.maxContentLen),
		"",
		"Goal: " + goal,
	}
	if constraints != "" {
		parts = append(parts, "Constraints: "+constraints)
	}
	return strings.Join(parts, "\n")
}

// Generate asks the model for a structured skill and normalizes the result.
// Warnings flag repairs the caller may want to surface: name_normalized when
// the proposed name needed rewriting, tags_insufficient when fewer than three
// tags survived cleaning.
func (g *Generator) Generate(ctx context.Context, model, goal, constraints string) (Generated, error) {
	var raw struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
		Visibility  string   `json:"visibility"`
		Content     string   `json:"content"`
	}
	err := g.client.GenerateJSON(ctx, llm.JSONRequest{
		Model:  model,
		System: generatorSystemPrompt,
		Prompt: g.buildPrompt(goal, constraints),
	}, &raw)
	if err != nil {
		return Generated{}, fmt.Errorf("generate skill: %w", err)
	}

	name, normalized, err := EnsureName(raw.Name)
	if err != nil {
		return Generated{}, fmt.Errorf("generated skill name invalid: %w", err)
	}
	description := strings.TrimSpace(raw.Description)
	tags := CleanTags(raw.Tags)
	if len(tags) > 6 {
		tags = tags[:6]
	}
	visibility := EnsureVisibility(Visibility(raw.Visibility))
	if !ValidVisibility(visibility) {
		visibility = VisibilityPrivate
	}
	content, err := EnsureContent(raw.Content, name, description, g.maxContentLen)
	if err != nil {
		return Generated{}, err
	}

	var warnings []string
	if normalized {
		warnings = append(warnings, "name_normalized")
	}
	if len(tags) < 3 {
		warnings = append(warnings, "tags_insufficient")
	}
	return Generated{
		Name:        name,
		Description: description,
		Tags:        tags,
		Visibility:  visibility,
		Content:     content,
		Warnings:    warnings,
	}, nil
}
