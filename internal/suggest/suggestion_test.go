package suggest

import (
	"context"
	"errors"
	"testing"

	"github.com/wendui/wendui/internal/chat"
	"github.com/wendui/wendui/internal/llm"
	"github.com/wendui/wendui/internal/skill"
)

func newFixture(t *testing.T) (*chat.InMemoryStore, *skill.InMemoryStore, chat.Conversation) {
	t.Helper()
	store := chat.NewInMemoryStore()
	skills := skill.NewInMemoryStore()
	conv, err := store.CreateConversation(context.Background(), "u1", "chat")
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	return store, skills, conv
}

func addSkill(t *testing.T, skills *skill.InMemoryStore, owner, name string, tags []string) skill.Skill {
	t.Helper()
	sk, _, err := skills.Create(context.Background(), skill.CreateInput{
		OwnerID:     owner,
		Name:        name,
		Description: "a reusable workflow",
		Tags:        tags,
		Visibility:  skill.VisibilityPublic,
		Content:     "body",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return sk
}

func declineMatcher() *llm.MockClient {
	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{"matched": false, "skill_id": null, "reason": null}`}
	return mock
}

func TestKeywordFallbackScenario(t *testing.T) {
	store, skills, conv := newFixture(t)
	sk := addSkill(t, skills, "u2", "market-sizing-analysis", []string{"TAM", "SAM"})
	miner := NewSuggestionMiner(declineMatcher(), store, skills, nil, nil)

	err := miner.Mine(context.Background(), MineInput{
		Model:            "m",
		UserID:           "u1",
		ConversationID:   conv.ID,
		Prompt:           "give me a TAM/SAM/SOM estimate",
		AssistantTurnID:  "t1",
		AssistantContent: "here you go",
	})
	if err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	pending, err := store.ListSuggestions(context.Background(), conv.ID, chat.StatusPending)
	if err != nil {
		t.Fatalf("ListSuggestions() error: %v", err)
	}
	if len(pending) != 1 || pending[0].SkillID != sk.ID {
		t.Fatalf("pending = %+v, want one suggestion for %s", pending, sk.ID)
	}
}

func TestAtMostOnePending(t *testing.T) {
	store, skills, conv := newFixture(t)
	addSkill(t, skills, "u2", "market-sizing-analysis", []string{"TAM"})
	addSkill(t, skills, "u2", "lead-research-playbook", []string{"leads"})

	ctx := context.Background()
	in := MineInput{Model: "m", UserID: "u1", ConversationID: conv.ID, AssistantTurnID: "t1", AssistantContent: "answer"}

	first := in
	first.Prompt = "estimate the TAM for me"
	miner := NewSuggestionMiner(declineMatcher(), store, skills, nil, nil)
	if err := miner.Mine(ctx, first); err != nil {
		t.Fatalf("Mine() error: %v", err)
	}

	// A different winning candidate while one is pending must not add a row.
	second := in
	second.Prompt = "find leads for my product"
	miner = NewSuggestionMiner(declineMatcher(), store, skills, nil, nil)
	if err := miner.Mine(ctx, second); err != nil {
		t.Fatalf("Mine() second error: %v", err)
	}

	pending, err := store.ListSuggestions(ctx, conv.ID, chat.StatusPending)
	if err != nil {
		t.Fatalf("ListSuggestions() error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}
}

func TestRejectionSuppressesForever(t *testing.T) {
	store, skills, conv := newFixture(t)
	addSkill(t, skills, "u2", "market-sizing-analysis", []string{"TAM"})
	ctx := context.Background()

	miner := NewSuggestionMiner(declineMatcher(), store, skills, nil, nil)
	in := MineInput{Model: "m", UserID: "u1", ConversationID: conv.ID, Prompt: "estimate the TAM", AssistantTurnID: "t1", AssistantContent: "answer"}
	if err := miner.Mine(ctx, in); err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	pending, _ := store.ListSuggestions(ctx, conv.ID, chat.StatusPending)
	if _, err := store.UpdateSuggestionStatus(ctx, pending[0].ID, chat.StatusRejected); err != nil {
		t.Fatalf("UpdateSuggestionStatus() error: %v", err)
	}

	miner = NewSuggestionMiner(declineMatcher(), store, skills, nil, nil)
	in.AssistantTurnID = "t2"
	if err := miner.Mine(ctx, in); err != nil {
		t.Fatalf("Mine() after rejection error: %v", err)
	}
	all, _ := store.ListSuggestions(ctx, conv.ID, "")
	if len(all) != 1 {
		t.Fatalf("len(all) = %d after rejected run, want 1", len(all))
	}
	if remaining, _ := store.ListSuggestions(ctx, conv.ID, chat.StatusPending); len(remaining) != 0 {
		t.Fatalf("new pending suggestion created after rejection")
	}
}

func TestIdempotentMatchFillsMissingReason(t *testing.T) {
	store, skills, conv := newFixture(t)
	sk := addSkill(t, skills, "u2", "market-sizing-analysis", []string{"TAM"})
	ctx := context.Background()

	// First run: matcher names the skill with no reason.
	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{"matched": true, "skill_id": "` + sk.ID + `", "reason": null}`}
	miner := NewSuggestionMiner(mock, store, skills, nil, nil)
	in := MineInput{Model: "m", UserID: "u1", ConversationID: conv.ID, Prompt: "size my market", AssistantTurnID: "t1", AssistantContent: "answer"}
	if err := miner.Mine(ctx, in); err != nil {
		t.Fatalf("Mine() error: %v", err)
	}

	// Simulate the pending row being resolved out-of-band so the second run
	// reaches the matcher again with the same winner.
	pending, _ := store.ListSuggestions(ctx, conv.ID, chat.StatusPending)
	if _, err := store.UpdateSuggestionStatus(ctx, pending[0].ID, chat.StatusAccepted); err != nil {
		t.Fatalf("UpdateSuggestionStatus() error: %v", err)
	}

	mock = llm.NewMockClient()
	mock.JSONReplies = []string{`{"matched": true, "skill_id": "` + sk.ID + `", "reason": "second pass reason"}`}
	miner = NewSuggestionMiner(mock, store, skills, nil, nil)
	in.AssistantTurnID = "t2"
	if err := miner.Mine(ctx, in); err != nil {
		t.Fatalf("Mine() second error: %v", err)
	}

	all, _ := store.ListSuggestions(ctx, conv.ID, "")
	if len(all) != 1 {
		t.Fatalf("len(all) = %d, want exactly one record per (conversation, skill)", len(all))
	}
	if all[0].Reason != "second pass reason" {
		t.Fatalf("reason = %q, want the second pass to fill the missing reason", all[0].Reason)
	}
}

func TestOutOfCandidateSetAnswerDiscarded(t *testing.T) {
	store, skills, conv := newFixture(t)
	addSkill(t, skills, "u2", "unrelated-workflow", []string{"zzz"})

	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{"matched": true, "skill_id": "made-up-id", "reason": "hallucinated"}`}
	miner := NewSuggestionMiner(mock, store, skills, nil, nil)
	err := miner.Mine(context.Background(), MineInput{
		Model: "m", UserID: "u1", ConversationID: conv.ID,
		Prompt: "an entirely unrelated question", AssistantTurnID: "t1", AssistantContent: "answer",
	})
	if err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	all, _ := store.ListSuggestions(context.Background(), conv.ID, "")
	if len(all) != 0 {
		t.Fatalf("hallucinated id persisted: %+v", all)
	}
}

func TestMatcherErrorFallsBackToRules(t *testing.T) {
	store, skills, conv := newFixture(t)
	sk := addSkill(t, skills, "u2", "lead-research-playbook", []string{"leads"})

	mock := llm.NewMockClient()
	mock.JSONErr = errors.New("matcher down")
	miner := NewSuggestionMiner(mock, store, skills, nil, nil)
	err := miner.Mine(context.Background(), MineInput{
		Model: "m", UserID: "u1", ConversationID: conv.ID,
		Prompt: "help me research leads for enterprise accounts", AssistantTurnID: "t1", AssistantContent: "answer",
	})
	if err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	pending, _ := store.ListSuggestions(context.Background(), conv.ID, chat.StatusPending)
	if len(pending) != 1 || pending[0].SkillID != sk.ID {
		t.Fatalf("pending = %+v, want rule fallback to pick %s", pending, sk.ID)
	}
}

func TestPreconditionsSkipWithoutModelCall(t *testing.T) {
	store, skills, conv := newFixture(t)
	addSkill(t, skills, "u2", "market-sizing-analysis", []string{"TAM"})
	mock := llm.NewMockClient() // no scripted replies: any call would error

	cases := []MineInput{
		{SelectedSkillID: "sk1", Prompt: "estimate TAM", AssistantContent: "a"},
		{Prompt: "   ", AssistantContent: "a"},
		{Prompt: "estimate TAM", AssistantContent: "<!-- Clarification chain -->\n{}"},
		{Prompt: `{"clarify_chain_response": {}}`, AssistantContent: "a"},
		{Prompt: "save this as a skill", AssistantContent: "a"},
	}
	for i, in := range cases {
		in.Model = "m"
		in.UserID = "u1"
		in.ConversationID = conv.ID
		in.AssistantTurnID = "t1"
		miner := NewSuggestionMiner(mock, store, skills, nil, nil)
		if err := miner.Mine(context.Background(), in); err != nil {
			t.Fatalf("case %d: Mine() error: %v", i, err)
		}
	}
	if len(mock.JSONCalls) != 0 {
		t.Fatalf("precondition skip still called the model %d times", len(mock.JSONCalls))
	}
	all, _ := store.ListSuggestions(context.Background(), conv.ID, "")
	if len(all) != 0 {
		t.Fatalf("skipped runs persisted suggestions: %+v", all)
	}
}

func TestTokenOverlapScoring(t *testing.T) {
	store, skills, conv := newFixture(t)
	sk := addSkill(t, skills, "u2", "paper-outline-builder", []string{"outline", "writing"})
	addSkill(t, skills, "u2", "zebra-migrations", []string{"zoology"})

	miner := NewSuggestionMiner(declineMatcher(), store, skills, nil, nil)
	err := miner.Mine(context.Background(), MineInput{
		Model: "m", UserID: "u1", ConversationID: conv.ID,
		Prompt: "help me with the outline and writing flow", AssistantTurnID: "t1", AssistantContent: "answer",
	})
	if err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	pending, _ := store.ListSuggestions(context.Background(), conv.ID, chat.StatusPending)
	if len(pending) != 1 || pending[0].SkillID != sk.ID {
		t.Fatalf("pending = %+v, want overlap scorer to pick %s", pending, sk.ID)
	}
}
