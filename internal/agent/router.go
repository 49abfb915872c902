package agent

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/wendui/wendui/internal/chat"
	"github.com/wendui/wendui/internal/llm"
	"github.com/wendui/wendui/internal/observability"
)

// Route is the behavior selected for one turn.
type Route string

const (
	RouteClarify Route = "clarify"
	RouteSkill   Route = "skill"
	RouteGeneral Route = "general"
)

const (
	// ClarifyMarker prefixes every clarification-chain payload.
	ClarifyMarker = "<!-- Clarification chain -->"
	// clarifyResponseKey tags a user turn that answers a clarification chain.
	clarifyResponseKey = "clarify_chain_response"
)

var (
	greetingPattern = regexp.MustCompile(
		`^(?i:hi|hello|hey|good (?:morning|afternoon|evening)|你好|您好|在吗|早上好|下午好|晚上好|嗨|哈喽)[!！。,.]*$`)
	skillIntentPattern = regexp.MustCompile(
		`(?i)(技能|skill|skill_id|read_skill|generate_skill|create_skill|生成技能|创建技能|保存技能|总结成技能|沉淀技能|技能库|技能模板)`)
	clarifyForcePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(?i)i want to pick .+$`),
		regexp.MustCompile(`^我想选.+$`),
		regexp.MustCompile(`^(?i)(?:please )?(?:help me )?(write|make|draw|design|fix).{0,6}$`),
		regexp.MustCompile(`^(帮(我|忙)?)?(写|做|画|设计).{0,6}$`),
		regexp.MustCompile(`^(?i)(optimize|improve|adjust|fix)(?: this| it)?$`),
		regexp.MustCompile(`^(优化|改进|调整|修复)(一下)?$`),
		regexp.MustCompile(`(?i).*how do i (do|make) (this|it)\??$`),
		regexp.MustCompile(`.*(怎么弄|怎么做|如何做|咋弄|怎么搞)$`),
	}
)

func isGreeting(text string) bool {
	return greetingPattern.MatchString(strings.TrimSpace(text))
}

// IsClarifyResponse reports whether text is a structured clarification answer.
func IsClarifyResponse(text string) bool {
	return strings.Contains(text, clarifyResponseKey)
}

// LooksLikeSkillRequest reports whether text signals skill intent.
func LooksLikeSkillRequest(text string) bool {
	return skillIntentPattern.MatchString(text)
}

func forceClarify(text string) bool {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return false
	}
	if isGreeting(stripped) {
		return false
	}
	for _, pattern := range clarifyForcePatterns {
		if pattern.MatchString(stripped) {
			return true
		}
	}
	return false
}

// lastRealUserTurn walks history backwards for the newest user turn that is
// not a clarification answer.
func lastRealUserTurn(history []chat.Turn) (chat.Turn, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Role != chat.RoleUser {
			continue
		}
		if IsClarifyResponse(t.Content) {
			continue
		}
		return t, true
	}
	return chat.Turn{}, false
}

// SelectRoute picks skill vs general for a non-clarify turn.
func SelectRoute(prompt string, history []chat.Turn, selectedSkillID string) Route {
	if selectedSkillID != "" {
		return RouteSkill
	}
	if LooksLikeSkillRequest(prompt) {
		return RouteSkill
	}
	if IsClarifyResponse(prompt) {
		if last, ok := lastRealUserTurn(history); ok && LooksLikeSkillRequest(last.Content) {
			return RouteSkill
		}
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == chat.RoleUser && LooksLikeSkillRequest(history[i].Content) {
			return RouteSkill
		}
	}
	return RouteGeneral
}

// DefaultClarifyChain is the hardcoded fallback when the clarify model
// returns nothing.
func DefaultClarifyChain() string {
	payload := `{"clarify_chain":[` +
		`{"type":"single_choice","question":"Does your request already include the goal and key constraints?","choices":["yes","no","other"]},` +
		`{"type":"ranking","question":"Rank these by importance:","options":["goal/outcome","constraints/scope","output format"]},` +
		`{"type":"free_text","question":"What is the most important missing detail?"}]}`
	return ClarifyMarker + "\n" + payload
}

// EnsureClarifyMarker guarantees the marker prefix; idempotent, and empty
// input yields the default chain.
func EnsureClarifyMarker(text string) string {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return DefaultClarifyChain()
	}
	if strings.HasPrefix(strings.ToLower(stripped), strings.ToLower(ClarifyMarker)) {
		return stripped
	}
	return ClarifyMarker + "\n" + stripped
}

type clarifyDecision struct {
	ShouldClarify bool   `json:"should_clarify"`
	Reason        string `json:"reason"`
}

// StreamInput carries one turn through the router.
type StreamInput struct {
	Model           string
	ConversationID  string
	UserID          string
	Prompt          string
	History         []chat.Turn
	SelectedSkillID string
	// SkillContent is the selected skill's latest content, resolved by the
	// caller; empty when no skill is selected.
	SkillContent string
}

// Router selects a behavior per turn and runs the generation.
type Router struct {
	client  llm.Client
	metrics *observability.Metrics
}

func NewRouter(client llm.Client, metrics *observability.Metrics) *Router {
	return &Router{client: client, metrics: metrics}
}

// decideClarify runs the heuristic first, then the model-backed decider.
// Decider failure degrades to not-clarify, never fails the turn.
func (r *Router) decideClarify(ctx context.Context, in StreamInput) (bool, string) {
	if forceClarify(in.Prompt) {
		return true, "heuristic"
	}
	var decision clarifyDecision
	err := r.client.GenerateJSON(ctx, llm.JSONRequest{
		Model:   in.Model,
		System:  clarifyDeciderSystemPrompt,
		History: historyMessages(in.History),
		Prompt:  in.Prompt,
	}, &decision)
	if err != nil {
		log.Printf("ai.clarify.decider_failed conversation=%s error=%v", in.ConversationID, err)
		return false, "decider_unavailable"
	}
	return decision.ShouldClarify, decision.Reason
}

func historyMessages(history []chat.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, t := range history {
		out = append(out, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return out
}

func preview(text string) string {
	trimmed := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if len(trimmed) <= 80 {
		return trimmed
	}
	return trimmed[:80] + "..."
}

// Stream runs the selected behavior, delivering text deltas through onDelta
// and returning the full accumulated text. Generation errors propagate to the
// caller; the caller surfaces them to watchers.
func (r *Router) Stream(ctx context.Context, in StreamInput, onDelta func(string) error) (string, error) {
	shouldClarify, reason := r.decideClarify(ctx, in)
	log.Printf("ai.clarify.decision conversation=%s model=%s should_clarify=%v reason=%s prompt_preview=%q",
		in.ConversationID, in.Model, shouldClarify, reason, preview(in.Prompt))

	if shouldClarify {
		r.countRoute(RouteClarify, reason)
		return r.streamClarify(ctx, in, onDelta)
	}

	route := SelectRoute(in.Prompt, in.History, in.SelectedSkillID)
	r.countRoute(route, "selected")
	log.Printf("ai.agent.route conversation=%s model=%s route=%s selected_skill_id=%s",
		in.ConversationID, in.Model, route, in.SelectedSkillID)
	return r.streamGeneration(ctx, in, route, onDelta)
}

func (r *Router) countRoute(route Route, reason string) {
	if r.metrics != nil {
		r.metrics.RouteDecisions.WithLabelValues(string(route), reason).Inc()
	}
}

// streamClarify produces the clarification chain as a single chunk.
func (r *Router) streamClarify(ctx context.Context, in StreamInput, onDelta func(string) error) (string, error) {
	raw, err := r.client.GenerateStream(ctx, llm.StreamRequest{
		Model:   in.Model,
		System:  clarifySystemPrompt,
		History: historyMessages(in.History),
		Prompt:  in.Prompt,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("clarify generation: %w", err)
	}
	out := EnsureClarifyMarker(raw)
	if onDelta != nil {
		if err := onDelta(out); err != nil {
			return "", err
		}
	}
	return out, nil
}

func (r *Router) streamGeneration(ctx context.Context, in StreamInput, route Route, onDelta func(string) error) (string, error) {
	system := generalSystemPrompt
	var instructions []string
	if route == RouteSkill {
		system = skillSystemPrompt
		if in.SelectedSkillID != "" {
			instructions = append(instructions, fmt.Sprintf(
				"The user selected skill %s. Read its content below and follow its Instructions before answering.\n\n%s",
				in.SelectedSkillID, in.SkillContent))
		}
	}

	deltaCount := 0
	var sb strings.Builder
	final, err := r.client.GenerateStream(ctx, llm.StreamRequest{
		Model:        in.Model,
		System:       system,
		History:      historyMessages(in.History),
		Prompt:       in.Prompt,
		Instructions: instructions,
	}, func(delta string) error {
		if delta == "" {
			return nil
		}
		deltaCount++
		sb.WriteString(delta)
		if onDelta != nil {
			return onDelta(delta)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s generation: %w", route, err)
	}

	if deltaCount > 0 {
		return sb.String(), nil
	}
	// Degenerate provider behavior: the stream ended without a single delta.
	// Deliver the final output as one chunk.
	if final == "" {
		log.Printf("ai.agent.stream.empty_output conversation=%s model=%s route=%s",
			in.ConversationID, in.Model, route)
		return "", nil
	}
	log.Printf("ai.agent.stream.fallback conversation=%s model=%s route=%s output_len=%d",
		in.ConversationID, in.Model, route, len(final))
	if r.metrics != nil {
		r.metrics.StreamFallbacks.WithLabelValues(string(route)).Inc()
	}
	if onDelta != nil {
		if err := onDelta(final); err != nil {
			return "", err
		}
	}
	return final, nil
}
