package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/embedding"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_EMBED_KEY", "sk-test")
	c, err := NewClient(Config{BaseURL: srv.URL + "/v1", APIKeyEnv: "TEST_EMBED_KEY", Model: "nomic-embed-text"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestClient_EmbedBatchRestoresOrder(t *testing.T) {
	var gotInput []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotInput = body.Input
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"nomic-embed-text","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		],"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	})

	vecs, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if !reflect.DeepEqual(gotInput, []string{"first", "second"}) {
		t.Errorf("request input = %v", gotInput)
	}
	want := [][]float32{{1, 0}, {0, 1}}
	if !reflect.DeepEqual(vecs, want) {
		t.Errorf("EmbedBatch = %v, want %v", vecs, want)
	}
	if c.Dimension() != 768 || c.Name() != "openai:nomic-embed-text" {
		t.Errorf("unexpected identity %s/%d", c.Name(), c.Dimension())
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{"throttled", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
			})
			_, err := c.Embed(context.Background(), "x")
			if err == nil {
				t.Fatal("expected an error")
			}
			if domain.Kind(err) != domain.KindEmbeddingUnavailable {
				t.Errorf("kind = %s, want %s (%v)", domain.Kind(err), domain.KindEmbeddingUnavailable, err)
			}
			if got := !embedding.IsPermanent(err); got != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v (%v)", got, tt.wantRetryable, err)
			}
		})
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Setenv("EMPTY_KEY", "")
	if _, err := NewClient(Config{APIKeyEnv: "EMPTY_KEY"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected missing key to be rejected, got %v", err)
	}
	if _, err := NewClient(Config{BaseURL: "http://localhost:11434/v1", Model: "custom-model"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected unknown dimension to be rejected, got %v", err)
	}
}
