package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wendui/wendui/internal/chat"
	"github.com/wendui/wendui/internal/llm"
)

func TestForceClarify(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"write docs", true},
		{"optimize this", true},
		{"fix", true},
		{"I want to pick a laptop", true},
		{"there is a bug, how do I fix it... how do I do this", true},
		{"帮我写个脚本", true},
		{"优化一下", true},
		{"hello", false},
		{"你好", false},
		{"write a 2000-word essay comparing two caching strategies with benchmarks", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := forceClarify(tc.in); got != tc.want {
			t.Fatalf("forceClarify(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEnsureClarifyMarker(t *testing.T) {
	out := EnsureClarifyMarker(`{"clarify_chain":[]}`)
	if !strings.HasPrefix(out, ClarifyMarker) {
		t.Fatalf("marker missing: %q", out)
	}
	// Idempotent: no duplicate marker.
	twice := EnsureClarifyMarker(out)
	if twice != out {
		t.Fatalf("second application changed text:\n%q\nvs\n%q", twice, out)
	}
	if strings.Count(twice, ClarifyMarker) != 1 {
		t.Fatalf("marker duplicated: %q", twice)
	}
}

func TestEnsureClarifyMarkerEmptyUsesDefault(t *testing.T) {
	out := EnsureClarifyMarker("   ")
	if out != DefaultClarifyChain() {
		t.Fatalf("empty input = %q, want default chain", out)
	}
	if !strings.HasPrefix(out, ClarifyMarker) {
		t.Fatalf("default chain missing marker: %q", out)
	}
}

func TestSelectRoute(t *testing.T) {
	skillHistory := []chat.Turn{
		{Role: chat.RoleUser, Content: "please create_skill from this"},
		{Role: chat.RoleAssistant, Content: "done"},
	}
	cases := []struct {
		name    string
		prompt  string
		history []chat.Turn
		skillID string
		want    Route
	}{
		{"preselected skill", "whatever", nil, "sk1", RouteSkill},
		{"skill vocabulary", "save this as a skill please", nil, "", RouteSkill},
		{"chinese skill vocabulary", "帮我生成技能", nil, "", RouteSkill},
		{"clarify answer after skill ask", `{"clarify_chain_response":{"q1":"yes"}}`, skillHistory, "", RouteSkill},
		{"prior user turn signaled intent", "and what about pricing?", skillHistory, "", RouteSkill},
		{"plain question", "what is the capital of France?", nil, "", RouteGeneral},
	}
	for _, tc := range cases {
		if got := SelectRoute(tc.prompt, tc.history, tc.skillID); got != tc.want {
			t.Fatalf("%s: SelectRoute() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestStreamClarifyHeuristicSkipsDecider(t *testing.T) {
	mock := llm.NewMockClient()
	mock.StreamReplies = []llm.StreamReply{{Final: `{"clarify_chain":[{"type":"free_text","question":"what goal?"}]}`}}
	r := NewRouter(mock, nil)

	var chunks []string
	out, err := r.Stream(context.Background(), StreamInput{Model: "m", Prompt: "optimize this"}, func(d string) error {
		chunks = append(chunks, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if len(mock.JSONCalls) != 0 {
		t.Fatalf("heuristic clarify still called the decider")
	}
	if len(chunks) != 1 || !strings.HasPrefix(chunks[0], ClarifyMarker) {
		t.Fatalf("chunks = %v, want one marker-prefixed chunk", chunks)
	}
	if out != chunks[0] {
		t.Fatalf("returned text %q != delivered chunk %q", out, chunks[0])
	}
}

func TestStreamDeciderFailureDefaultsToAnswer(t *testing.T) {
	mock := llm.NewMockClient()
	mock.JSONErr = errors.New("decider down")
	mock.StreamReplies = []llm.StreamReply{{Deltas: []string{"an ", "answer"}, Final: "an answer"}}
	r := NewRouter(mock, nil)

	out, err := r.Stream(context.Background(), StreamInput{Model: "m", Prompt: "summarize the roman empire's fall"}, nil)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if out != "an answer" {
		t.Fatalf("out = %q", out)
	}
}

func TestStreamDeciderTriggersClarify(t *testing.T) {
	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{"should_clarify": true, "reason": "vague"}`}
	mock.StreamReplies = []llm.StreamReply{{Final: ""}}
	r := NewRouter(mock, nil)

	out, err := r.Stream(context.Background(), StreamInput{Model: "m", Prompt: "something ambiguous enough"}, nil)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if out != DefaultClarifyChain() {
		t.Fatalf("empty clarify output did not fall back to default chain: %q", out)
	}
}

func TestStreamFallbackOnlyOnEmptyStream(t *testing.T) {
	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{"should_clarify": false}`}
	mock.StreamReplies = []llm.StreamReply{{Deltas: nil, Final: "full output"}}
	r := NewRouter(mock, nil)

	var chunks []string
	out, err := r.Stream(context.Background(), StreamInput{Model: "m", Prompt: "a clear question"}, func(d string) error {
		chunks = append(chunks, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "full output" {
		t.Fatalf("chunks = %v, want the final output exactly once", chunks)
	}
	if out != "full output" {
		t.Fatalf("out = %q", out)
	}
}

func TestStreamNoFallbackWhenDeltasProduced(t *testing.T) {
	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{"should_clarify": false}`}
	// Final differs from the deltas; it must not be appended.
	mock.StreamReplies = []llm.StreamReply{{Deltas: []string{"hi"}, Final: "hi plus trailing junk"}}
	r := NewRouter(mock, nil)

	var chunks []string
	out, err := r.Stream(context.Background(), StreamInput{Model: "m", Prompt: "a clear question"}, func(d string) error {
		chunks = append(chunks, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "hi" {
		t.Fatalf("chunks = %v, want only the streamed delta", chunks)
	}
	if out != "hi" {
		t.Fatalf("out = %q, want accumulated deltas only", out)
	}
}

func TestStreamGenerationErrorPropagates(t *testing.T) {
	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{"should_clarify": false}`}
	mock.StreamErr = errors.New("provider down")
	r := NewRouter(mock, nil)

	if _, err := r.Stream(context.Background(), StreamInput{Model: "m", Prompt: "a clear question"}, nil); err == nil {
		t.Fatalf("Stream() swallowed the generation error")
	}
}

func TestStreamSkillInstructionInjection(t *testing.T) {
	mock := llm.NewMockClient()
	mock.JSONReplies = []string{`{"should_clarify": false}`}
	mock.StreamReplies = []llm.StreamReply{{Deltas: []string{"ok"}, Final: "ok"}}
	r := NewRouter(mock, nil)

	_, err := r.Stream(context.Background(), StreamInput{
		Model:           "m",
		Prompt:          "use it on my data",
		SelectedSkillID: "sk1",
		SkillContent:    "---\nname: demo\n---\nbody",
	}, nil)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if len(mock.StreamCalls) != 1 {
		t.Fatalf("StreamCalls = %d", len(mock.StreamCalls))
	}
	call := mock.StreamCalls[0]
	if len(call.Instructions) != 1 || !strings.Contains(call.Instructions[0], "sk1") || !strings.Contains(call.Instructions[0], "name: demo") {
		t.Fatalf("skill instruction missing: %+v", call.Instructions)
	}
}
