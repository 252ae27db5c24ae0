package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/dangattringer/rust-rag/internal/domain"
)

func retrieval() domain.RetrievalResult {
	return domain.RetrievalResult{
		Query: "how do I spawn a task",
		Results: []domain.ScoredChunk{
			{
				Chunk: domain.Chunk{
					DocumentID:  "tokio@1.38.0/tokio/task/index.html",
					HeadingPath: []string{"Module task", "Spawning"},
					Text:        "Tasks are light weight. Use tokio::spawn to spawn a task onto the runtime. The runtime schedules it.",
				},
				Score: 0.82,
			},
			{
				Chunk: domain.Chunk{
					DocumentID: "tokio@1.38.0/tokio/runtime/index.html",
					Text:       "A runtime owns worker threads. Blocking code should use spawn_blocking.",
				},
				Score: 0.41,
			},
		},
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(" how do I spawn a task ", retrieval())
	for _, want := range []string{
		"[1] tokio@1.38.0/tokio/task/index.html (Module task > Spawning)\nTasks are light weight.",
		"[2] tokio@1.38.0/tokio/runtime/index.html\nA runtime owns",
		"Question: how do I spawn a task",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt lacks %q:\n%s", want, p)
		}
	}
}

func TestExtractive(t *testing.T) {
	g := NewExtractive(1)
	answer, err := g.Generate(context.Background(), "how do I spawn a task", retrieval())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.HasPrefix(answer, "Use tokio::spawn to spawn a task onto the runtime.") {
		t.Errorf("answer = %q", answer)
	}
	if !strings.Contains(answer, "Sources:\n- tokio@1.38.0/tokio/task/index.html") || strings.Contains(answer, "runtime/index.html") {
		t.Errorf("sources = %q", answer)
	}

	again, _ := g.Generate(context.Background(), "how do I spawn a task", retrieval())
	if again != answer {
		t.Error("extractive answer is not deterministic")
	}

	empty, _ := g.Generate(context.Background(), "anything", domain.RetrievalResult{})
	if empty != NoAnswer {
		t.Errorf("empty answer = %q", empty)
	}
}

func TestExtractive_KeepsRetrievalOrder(t *testing.T) {
	g := NewExtractive(3)
	answer, _ := g.Generate(context.Background(), "runtime spawn", retrieval())
	first := strings.Index(answer, "tokio::spawn")
	second := strings.Index(answer, "worker threads")
	if first < 0 || second < 0 || first > second {
		t.Errorf("sentences out of retrieval order: %q", answer)
	}
}

func TestOpenAI_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "llama3" || len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "Question: q") {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" Use tokio::spawn [1]. "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "llama3"})
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}
	answer, err := g.Generate(context.Background(), "q", retrieval())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if answer != "Use tokio::spawn [1]." {
		t.Errorf("answer = %q", answer)
	}
	if g.Name() != "openai:llama3" {
		t.Errorf("Name = %s", g.Name())
	}
}

func TestNewOpenAI_RequiresKeyForOpenAI(t *testing.T) {
	t.Setenv("RAG_TEST_MISSING_KEY", "")
	if _, err := NewOpenAI(OpenAIConfig{APIKeyEnv: "RAG_TEST_MISSING_KEY"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

type fakeRuntime struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeRuntime) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestClaude_Generate(t *testing.T) {
	rt := &fakeRuntime{body: `{"content":[{"type":"text","text":"Spawn with "},{"type":"text","text":"tokio::spawn."}],"stop_reason":"end_turn"}`}
	g := NewClaudeWithClient(rt, ClaudeConfig{})

	answer, err := g.Generate(context.Background(), "how do I spawn a task", retrieval())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if answer != "Spawn with tokio::spawn." {
		t.Errorf("answer = %q", answer)
	}
	if *rt.input.ModelId != DefaultClaudeModelID {
		t.Errorf("model = %s", *rt.input.ModelId)
	}
	var sent claudeMessageRequest
	if err := json.Unmarshal(rt.input.Body, &sent); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if sent.AnthropicVersion != anthropicVersion || sent.System == "" || !strings.Contains(sent.Messages[0].Content, "[1]") {
		t.Errorf("request = %+v", sent)
	}

	rt.err = errors.New("throttled")
	if _, err := g.Generate(context.Background(), "q", retrieval()); err == nil {
		t.Error("expected error")
	}
}
