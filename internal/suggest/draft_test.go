package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wendui/wendui/internal/chat"
	"github.com/wendui/wendui/internal/llm"
	"github.com/wendui/wendui/internal/skill"
)

func proceduralAnswer() string {
	return "Here is how to do it. Step 1: collect the data. Step 2: clean it up. Step 3: run the analysis. " +
		strings.Repeat("Each step matters and should be documented carefully. ", 10)
}

func declineDetector() *llm.MockClient {
	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{"should_suggest": false, "goal": null, "constraints": null, "reason": null}`}
	return mock
}

func newDraftMiner(mock *llm.MockClient, store chat.Store, skills skill.Store) *DraftMiner {
	gen := skill.NewGenerator(mock, 20000)
	return NewDraftMiner(mock, store, skills, gen, nil)
}

func TestDraftFallbackFirstClauseGoal(t *testing.T) {
	store, skills, conv := newFixture(t)
	miner := newDraftMiner(declineDetector(), store, skills)

	err := miner.Mine(context.Background(), MineInput{
		Model: "m", UserID: "u1", ConversationID: conv.ID,
		Prompt:           "analyze churn, then tell me what drives it and how to fix it",
		AssistantTurnID:  "t1",
		AssistantContent: proceduralAnswer(),
	})
	if err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	pending, _ := store.ListDraftSuggestions(context.Background(), conv.ID, chat.StatusPending)
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}
	if pending[0].Goal != "analyze churn" {
		t.Fatalf("goal = %q, want first clause of the prompt", pending[0].Goal)
	}
}

func TestDraftFallbackTruncatesGoal(t *testing.T) {
	store, skills, conv := newFixture(t)
	miner := newDraftMiner(declineDetector(), store, skills)

	err := miner.Mine(context.Background(), MineInput{
		Model: "m", UserID: "u1", ConversationID: conv.ID,
		Prompt:           "please walk through everything needed to launch this product internationally",
		AssistantTurnID:  "t1",
		AssistantContent: proceduralAnswer(),
	})
	if err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	pending, _ := store.ListDraftSuggestions(context.Background(), conv.ID, chat.StatusPending)
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}
	if got := len([]rune(pending[0].Goal)); got > maxGoalLen {
		t.Fatalf("goal length = %d, want <= %d", got, maxGoalLen)
	}
}

func TestDraftFallbackNeedsProcedureMarkers(t *testing.T) {
	store, skills, conv := newFixture(t)
	miner := newDraftMiner(declineDetector(), store, skills)

	prose := strings.Repeat("A long freeform essay about history with no actionable structure whatsoever. ", 5)
	err := miner.Mine(context.Background(), MineInput{
		Model: "m", UserID: "u1", ConversationID: conv.ID,
		Prompt: "tell me about the fall of Rome", AssistantTurnID: "t1", AssistantContent: prose,
	})
	if err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	if all, _ := store.ListDraftSuggestions(context.Background(), conv.ID, ""); len(all) != 0 {
		t.Fatalf("draft created without procedure markers: %+v", all)
	}
}

func TestDraftShortAssistantAnswerSkipped(t *testing.T) {
	store, skills, conv := newFixture(t)
	mock := llm.NewMockClient() // any model call would error
	miner := newDraftMiner(mock, store, skills)

	err := miner.Mine(context.Background(), MineInput{
		Model: "m", UserID: "u1", ConversationID: conv.ID,
		Prompt: "analyze churn for me please", AssistantTurnID: "t1",
		AssistantContent: "Step 1: too short.",
	})
	if err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	if len(mock.JSONCalls) != 0 {
		t.Fatalf("short answer still called the model")
	}
}

func TestDraftRejectionSuppressesForever(t *testing.T) {
	store, skills, conv := newFixture(t)
	ctx := context.Background()

	miner := newDraftMiner(declineDetector(), store, skills)
	in := MineInput{
		Model: "m", UserID: "u1", ConversationID: conv.ID,
		Prompt: "analyze churn for me please", AssistantTurnID: "t1", AssistantContent: proceduralAnswer(),
	}
	if err := miner.Mine(ctx, in); err != nil {
		t.Fatalf("Mine() error: %v", err)
	}
	pending, _ := store.ListDraftSuggestions(ctx, conv.ID, chat.StatusPending)
	if _, err := store.UpdateDraftStatus(ctx, pending[0].ID, chat.StatusRejected, ""); err != nil {
		t.Fatalf("UpdateDraftStatus() error: %v", err)
	}

	miner = newDraftMiner(declineDetector(), store, skills)
	in.AssistantTurnID = "t2"
	if err := miner.Mine(ctx, in); err != nil {
		t.Fatalf("Mine() after rejection error: %v", err)
	}
	if all, _ := store.ListDraftSuggestions(ctx, conv.ID, ""); len(all) != 1 {
		t.Fatalf("len(all) = %d after rejection, want 1", len(all))
	}
}

func TestAcceptCreatesPrivateSkillAndMarksDraft(t *testing.T) {
	store, skills, conv := newFixture(t)
	ctx := context.Background()

	draft, err := store.UpsertDraftSuggestion(ctx, chat.DraftSuggestion{
		ConversationID: conv.ID, TurnID: "t1", Goal: "churn analysis", Constraints: "weekly cadence",
	})
	if err != nil {
		t.Fatalf("UpsertDraftSuggestion() error: %v", err)
	}

	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{
		"name": "churn-analysis",
		"description": "analyze churn drivers",
		"tags": ["churn", "analytics", "retention"],
		"visibility": "public",
		"content": "## Instructions\nDo the analysis.\n\n## Examples\nNone."
	}`}
	miner := newDraftMiner(mock, store, skills)

	accepted, created, err := miner.Accept(ctx, "u1", draft.ID, "m")
	if err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	if accepted.Status != chat.StatusAccepted || accepted.CreatedSkillID != created.ID {
		t.Fatalf("accepted draft = %+v", accepted)
	}
	if created.OwnerID != "u1" || created.Visibility != skill.VisibilityPrivate {
		t.Fatalf("created skill = %+v, want private skill owned by u1", created)
	}
	v, err := skills.LatestVersion(ctx, created.ID)
	if err != nil {
		t.Fatalf("LatestVersion() error: %v", err)
	}
	if v.Version != 1 {
		t.Fatalf("version = %d, want 1", v.Version)
	}
	if !strings.Contains(mock.JSONCalls[0].Prompt, "weekly cadence") {
		t.Fatalf("constraints not forwarded to the generator")
	}
}

func TestAcceptNonPendingDraftConflicts(t *testing.T) {
	store, skills, conv := newFixture(t)
	ctx := context.Background()

	draft, err := store.UpsertDraftSuggestion(ctx, chat.DraftSuggestion{ConversationID: conv.ID, TurnID: "t1", Goal: "g"})
	if err != nil {
		t.Fatalf("UpsertDraftSuggestion() error: %v", err)
	}
	if _, err := store.UpdateDraftStatus(ctx, draft.ID, chat.StatusRejected, ""); err != nil {
		t.Fatalf("UpdateDraftStatus() error: %v", err)
	}

	mock := llm.NewMockClient()
	miner := newDraftMiner(mock, store, skills)
	if _, _, err := miner.Accept(ctx, "u1", draft.ID, "m"); !errors.Is(err, chat.ErrConflict) {
		t.Fatalf("Accept() error = %v, want ErrConflict", err)
	}
	if len(mock.JSONCalls) != 0 {
		t.Fatalf("conflicting accept still called the generator")
	}
}
