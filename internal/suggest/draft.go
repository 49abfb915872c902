package suggest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/wendui/wendui/internal/agent"
	"github.com/wendui/wendui/internal/chat"
	"github.com/wendui/wendui/internal/llm"
	"github.com/wendui/wendui/internal/observability"
	"github.com/wendui/wendui/internal/skill"
)

const (
	minAssistantLen = 120
	minPromptLen    = 6
	maxGoalLen      = 20
)

var (
	flowPattern = regexp.MustCompile(
		`(?i)(step\s*\d|steps|process|checklist|plan|first[,.]|second[,.]|third[,.]|` +
			`步骤|流程|清单|计划|方案|第[一二三四五六七八九十])|\n\d+[.、]`)
	clausePattern = regexp.MustCompile(`[，。,；;！？!?.]`)
)

const draftSystemPrompt = `You judge whether a conversation contains a reusable procedure, method, or checklist ` +
	`worth saving as a skill. If it does, set should_suggest=true with a short goal (max 20 chars), ` +
	`optional key constraints (max 60 chars), and a one-sentence reason. If not, should_suggest=false and goal=null. ` +
	`Respond with a single JSON object {"should_suggest": bool, "goal": string|null, "constraints": string|null, "reason": string|null}.`

type draftResult struct {
	ShouldSuggest bool   `json:"should_suggest"`
	Goal          string `json:"goal"`
	Constraints   string `json:"constraints"`
	Reason        string `json:"reason"`
}

// fallbackGoal takes the first clause of the prompt, truncated.
func fallbackGoal(prompt string) string {
	stripped := strings.TrimSpace(prompt)
	if stripped == "" {
		return ""
	}
	candidate := strings.TrimSpace(clausePattern.Split(stripped, 2)[0])
	if candidate == "" {
		candidate = stripped
	}
	runes := []rune(candidate)
	if len(runes) > maxGoalLen {
		runes = runes[:maxGoalLen]
	}
	return string(runes)
}

// fallbackDraft fires only when the assistant's answer shows procedure
// structure and the prompt is long enough to carry a goal.
func fallbackDraft(prompt, assistantContent string) *draftResult {
	if !flowPattern.MatchString(assistantContent) {
		return nil
	}
	if len(strings.TrimSpace(prompt)) < minPromptLen {
		return nil
	}
	goal := fallbackGoal(prompt)
	if goal == "" {
		return nil
	}
	return &draftResult{ShouldSuggest: true, Goal: goal, Reason: "reusable procedure detected"}
}

// DraftMiner proposes saving the conversation as a new skill, and owns the
// draft acceptance path.
type DraftMiner struct {
	client    llm.Client
	store     chat.Store
	skills    skill.Store
	generator *skill.Generator
	metrics   *observability.Metrics
}

func NewDraftMiner(client llm.Client, store chat.Store, skills skill.Store, generator *skill.Generator, metrics *observability.Metrics) *DraftMiner {
	return &DraftMiner{client: client, store: store, skills: skills, generator: generator, metrics: metrics}
}

func (m *DraftMiner) outcome(result string) {
	if m.metrics != nil {
		m.metrics.MinerOutcomes.WithLabelValues("draft", result).Inc()
	}
}

// Mine runs the precondition chain, the model-backed detector, and the
// heuristic fallback, persisting at most one pending draft.
func (m *DraftMiner) Mine(ctx context.Context, in MineInput) error {
	if in.SelectedSkillID != "" ||
		strings.TrimSpace(in.Prompt) == "" ||
		strings.TrimSpace(in.AssistantContent) == "" ||
		containsClarifyChain(in.AssistantContent) ||
		agent.IsClarifyResponse(in.Prompt) ||
		agent.LooksLikeSkillRequest(in.Prompt) ||
		agent.LooksLikeSkillRequest(in.AssistantContent) ||
		len(strings.TrimSpace(in.AssistantContent)) < minAssistantLen {
		m.outcome("skipped")
		return nil
	}

	rejected, err := m.store.HasRejectedDraft(ctx, in.ConversationID)
	if err != nil {
		return fmt.Errorf("draft miner rejection check: %w", err)
	}
	if rejected {
		m.outcome("suppressed")
		return nil
	}
	pending, err := m.store.ListDraftSuggestions(ctx, in.ConversationID, chat.StatusPending)
	if err != nil {
		return fmt.Errorf("draft miner pending check: %w", err)
	}
	if len(pending) > 0 {
		m.outcome("suppressed")
		return nil
	}

	result := m.detect(ctx, in)
	if result == nil || !result.ShouldSuggest || strings.TrimSpace(result.Goal) == "" {
		result = fallbackDraft(in.Prompt, in.AssistantContent)
	}
	if result == nil || !result.ShouldSuggest || strings.TrimSpace(result.Goal) == "" {
		m.outcome("no_match")
		return nil
	}

	record, err := m.store.UpsertDraftSuggestion(ctx, chat.DraftSuggestion{
		ConversationID: in.ConversationID,
		TurnID:         in.AssistantTurnID,
		Goal:           strings.TrimSpace(result.Goal),
		Constraints:    strings.TrimSpace(result.Constraints),
		Reason:         strings.TrimSpace(result.Reason),
	})
	if err != nil {
		return fmt.Errorf("draft miner persist: %w", err)
	}
	log.Printf("ai.skill_draft.suggested conversation=%s user=%s suggestion_id=%s", in.ConversationID, in.UserID, record.ID)
	m.outcome("suggested")
	return nil
}

func (m *DraftMiner) detect(ctx context.Context, in MineInput) *draftResult {
	var result draftResult
	err := m.client.GenerateJSON(ctx, llm.JSONRequest{
		Model:  in.Model,
		System: draftSystemPrompt,
		Prompt: contextSnippet(in.History, in.Prompt, in.AssistantContent),
	}, &result)
	if err != nil {
		log.Printf("ai.skill_draft.match_failed conversation=%s error=%v", in.ConversationID, err)
		return nil
	}
	return &result
}

// Accept generates a full skill from a pending draft, persists it as a
// private skill (version 1), and marks the draft accepted with the created
// skill id. A non-pending draft is a conflict, never a silent success.
func (m *DraftMiner) Accept(ctx context.Context, userID, draftID, model string) (chat.DraftSuggestion, skill.Skill, error) {
	draft, err := m.store.GetDraftSuggestion(ctx, draftID)
	if err != nil {
		return chat.DraftSuggestion{}, skill.Skill{}, err
	}
	if draft.Status != chat.StatusPending {
		return chat.DraftSuggestion{}, skill.Skill{}, chat.ErrConflict
	}

	generated, err := m.generator.Generate(ctx, model, draft.Goal, draft.Constraints)
	if err != nil {
		return chat.DraftSuggestion{}, skill.Skill{}, fmt.Errorf("accept draft %s: %w", draftID, err)
	}

	created, _, err := m.skills.Create(ctx, skill.CreateInput{
		OwnerID:     userID,
		Name:        generated.Name,
		Description: generated.Description,
		Tags:        generated.Tags,
		Visibility:  skill.VisibilityPrivate,
		Content:     generated.Content,
	})
	if err != nil {
		return chat.DraftSuggestion{}, skill.Skill{}, fmt.Errorf("accept draft %s: persist skill: %w", draftID, err)
	}

	updated, err := m.store.UpdateDraftStatus(ctx, draftID, chat.StatusAccepted, created.ID)
	if err != nil {
		if errors.Is(err, chat.ErrConflict) {
			// Lost a race with another accept/reject; the generated skill
			// stays, the caller sees the conflict.
			log.Printf("ai.skill_draft.accept_conflict draft=%s skill_id=%s", draftID, created.ID)
		}
		return chat.DraftSuggestion{}, skill.Skill{}, err
	}
	log.Printf("ai.skill_draft.accepted draft=%s user=%s skill_id=%s", draftID, userID, created.ID)
	return updated, created, nil
}
