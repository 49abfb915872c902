package suggest

import (
	"context"
	"encoding/json"
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

// MineInput carries one completed exchange into a miner.
type MineInput struct {
	Model            string
	UserID           string
	ConversationID   string
	Prompt           string
	History          []chat.Turn
	AssistantTurnID  string
	AssistantContent string
	SelectedSkillID  string
}

// Rule is one entry of the deterministic keyword fallback table: if any
// keyword appears in the recent user text, the first candidate whose name or
// tags match the hints wins.
type Rule struct {
	Keywords  []string
	NameHints []string
	TagHints  []string
	Reason    string
}

// DefaultRules covers the stock vocabularies. Callers may supply their own
// table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Keywords:  []string{"市场规模", "tam", "sam", "som", "market sizing", "market-sizing"},
			NameHints: []string{"market-sizing"},
			TagHints:  []string{"市场规模", "tam", "sam", "som"},
			Reason:    "market sizing workflow fits",
		},
		{
			Keywords:  []string{"线索", "潜在客户", "leads", "lead", "客户研究", "线索研究"},
			NameHints: []string{"lead-research"},
			TagHints:  []string{"线索", "客户", "research", "leads"},
			Reason:    "lead research workflow fits",
		},
		{
			Keywords:  []string{"论文", "paper", "research paper"},
			NameHints: []string{"write-paper", "paper"},
			TagHints:  []string{"论文", "写作", "writing"},
			Reason:    "paper writing workflow fits",
		},
	}
}

const matcherSystemPrompt = `You are a skill matcher. Given a chat summary and candidate skill summaries, ` +
	`decide whether to recommend a skill. Recommend only on a strong, clearly useful match. ` +
	`Pick only from the given candidate ids, never invent one. ` +
	`Respond with a single JSON object {"matched": bool, "skill_id": string|null, "reason": string|null}; ` +
	`when matched is true, reason is one short sentence.`

type matchResult struct {
	Matched bool   `json:"matched"`
	SkillID string `json:"skill_id"`
	Reason  string `json:"reason"`
}

// SuggestionMiner proposes reusing an existing skill after a completed turn.
type SuggestionMiner struct {
	client  llm.Client
	store   chat.Store
	skills  skill.Store
	rules   []Rule
	metrics *observability.Metrics
}

func NewSuggestionMiner(client llm.Client, store chat.Store, skills skill.Store, rules []Rule, metrics *observability.Metrics) *SuggestionMiner {
	if rules == nil {
		rules = DefaultRules()
	}
	return &SuggestionMiner{client: client, store: store, skills: skills, rules: rules, metrics: metrics}
}

func (m *SuggestionMiner) outcome(result string) {
	if m.metrics != nil {
		m.metrics.MinerOutcomes.WithLabelValues("suggestion", result).Inc()
	}
}

func containsClarifyChain(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(agent.ClarifyMarker))
}

// Mine runs the precondition chain, the model-backed matcher, and the
// deterministic fallback, persisting at most one pending suggestion.
func (m *SuggestionMiner) Mine(ctx context.Context, in MineInput) error {
	// Cheapest checks first; all of these end the run silently.
	if in.SelectedSkillID != "" ||
		strings.TrimSpace(in.Prompt) == "" ||
		containsClarifyChain(in.AssistantContent) ||
		agent.IsClarifyResponse(in.Prompt) ||
		agent.LooksLikeSkillRequest(in.Prompt) {
		m.outcome("skipped")
		return nil
	}

	summaries, err := m.skills.Summaries(ctx, in.UserID)
	if err != nil {
		return fmt.Errorf("suggestion miner candidates: %w", err)
	}
	if len(summaries) == 0 {
		m.outcome("skipped")
		return nil
	}
	candidateIDs := make(map[string]struct{}, len(summaries))
	for _, s := range summaries {
		candidateIDs[s.ID] = struct{}{}
	}

	rejected, err := m.store.HasRejectedSuggestion(ctx, in.ConversationID)
	if err != nil {
		return fmt.Errorf("suggestion miner rejection check: %w", err)
	}
	if rejected {
		m.outcome("suppressed")
		return nil
	}
	pending, err := m.store.ListSuggestions(ctx, in.ConversationID, chat.StatusPending)
	if err != nil {
		return fmt.Errorf("suggestion miner pending check: %w", err)
	}
	if len(pending) > 0 {
		m.outcome("suppressed")
		return nil
	}

	match := m.matchSkill(ctx, in, summaries)
	if match == nil || !match.Matched || match.SkillID == "" {
		match = fallbackMatch(in.Prompt, in.History, summaries, m.rules)
	}
	if match == nil || !match.Matched || match.SkillID == "" {
		m.outcome("no_match")
		return nil
	}
	if _, ok := candidateIDs[match.SkillID]; !ok {
		log.Printf("ai.skill.match_invalid conversation=%s skill_id=%s", in.ConversationID, match.SkillID)
		m.outcome("invalid")
		return nil
	}

	record, err := m.store.UpsertSuggestion(ctx, chat.Suggestion{
		ConversationID: in.ConversationID,
		SkillID:        match.SkillID,
		TurnID:         in.AssistantTurnID,
		Reason:         match.Reason,
	})
	if err != nil {
		return fmt.Errorf("suggestion miner persist: %w", err)
	}
	log.Printf("ai.skill.suggested conversation=%s user=%s skill_id=%s", in.ConversationID, in.UserID, record.SkillID)
	m.outcome("suggested")
	return nil
}

func (m *SuggestionMiner) matchSkill(ctx context.Context, in MineInput, summaries []skill.Summary) *matchResult {
	payload, err := json.Marshal(summaries)
	if err != nil {
		return nil
	}
	var result matchResult
	err = m.client.GenerateJSON(ctx, llm.JSONRequest{
		Model:  in.Model,
		System: matcherSystemPrompt,
		Prompt: "Candidate skill summaries (pick only from these):\n" + string(payload) +
			"\n\n" + contextSnippet(in.History, in.Prompt, ""),
	}, &result)
	if err != nil {
		log.Printf("ai.skill.match_failed conversation=%s error=%v", in.ConversationID, err)
		return nil
	}
	return &result
}

// contextSnippet renders the recent turns plus the current exchange into a
// compact summary for the classifiers.
func contextSnippet(history []chat.Turn, prompt, assistantContent string) string {
	const limit = 6
	lines := []string{"Conversation summary:"}
	recent := history
	if len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	for _, t := range recent {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		lines = append(lines, string(t.Role)+": "+content)
	}
	if p := strings.TrimSpace(prompt); p != "" {
		lines = append(lines, "Current user input: "+p)
	}
	if a := strings.TrimSpace(assistantContent); a != "" {
		lines = append(lines, "Latest assistant reply: "+a)
	}
	return strings.Join(lines, "\n")
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func normalizeText(text string) (lowered, compact string) {
	lowered = strings.ToLower(text)
	compact = whitespacePattern.ReplaceAllString(lowered, "")
	return lowered, compact
}

func findSkillByHints(summaries []skill.Summary, nameHints, tagHints []string) string {
	for _, item := range summaries {
		name := strings.ToLower(item.Name)
		for _, hint := range nameHints {
			if strings.Contains(name, strings.ToLower(hint)) {
				return item.ID
			}
		}
		for _, tag := range item.Tags {
			lowerTag := strings.ToLower(tag)
			for _, hint := range tagHints {
				if strings.Contains(lowerTag, strings.ToLower(hint)) {
					return item.ID
				}
			}
		}
	}
	return ""
}

// fallbackMatch tries the keyword rule table first, then token-overlap
// scoring with a minimum threshold of 2.
func fallbackMatch(prompt string, history []chat.Turn, summaries []skill.Summary, rules []Rule) *matchResult {
	var userText []string
	for _, t := range history {
		if t.Role == chat.RoleUser {
			userText = append(userText, t.Content)
		}
	}
	text := strings.TrimSpace(prompt + " " + strings.Join(userText, " "))
	if text == "" {
		return nil
	}
	lowered, compact := normalizeText(text)

	for _, rule := range rules {
		for _, keyword := range rule.Keywords {
			kw := strings.ToLower(keyword)
			if strings.Contains(lowered, kw) || strings.Contains(compact, kw) {
				if id := findSkillByHints(summaries, rule.NameHints, rule.TagHints); id != "" {
					return &matchResult{Matched: true, SkillID: id, Reason: rule.Reason}
				}
				break
			}
		}
	}

	bestID := ""
	bestScore := 0
	for _, item := range summaries {
		name := strings.ToLower(item.Name)
		description := strings.ToLower(item.Description)
		tokens := make(map[string]struct{})
		for _, tok := range strings.Split(strings.ReplaceAll(name, "_", "-"), "-") {
			tokens[tok] = struct{}{}
		}
		for _, tag := range item.Tags {
			tokens[strings.ToLower(tag)] = struct{}{}
		}
		score := 0
		if name != "" && strings.Contains(lowered, name) {
			score += 3
		}
		if description != "" && strings.Contains(lowered, description) {
			score++
		}
		for tok := range tokens {
			if len(tok) < 2 {
				continue
			}
			if strings.Contains(lowered, tok) || strings.Contains(compact, tok) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestID = item.ID
		}
	}
	if bestID != "" && bestScore >= 2 {
		return &matchResult{Matched: true, SkillID: bestID, Reason: "a matching skill may help"}
	}
	return nil
}
