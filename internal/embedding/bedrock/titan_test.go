package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/embedding"
)

type fakeRuntime struct {
	requests []titanRequest
	body     string
	err      error
}

func (f *fakeRuntime) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	var req titanRequest
	_ = json.Unmarshal(params.Body, &req)
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestEmbedder_Embed(t *testing.T) {
	rt := &fakeRuntime{body: `{"embedding":[0.5,-0.5,0.5,0.5],"inputTextTokenCount":3}`}
	e, err := NewWithClient(rt, Config{Dimension: 256})
	if err != nil {
		t.Fatalf("NewWithClient failed: %v", err)
	}

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != 2 || !reflect.DeepEqual(vecs[0], []float32{0.5, -0.5, 0.5, 0.5}) {
		t.Errorf("EmbedBatch = %v", vecs)
	}
	if len(rt.requests) != 2 || rt.requests[1].InputText != "b" || rt.requests[0].Dimensions != 256 || !rt.requests[0].Normalize {
		t.Errorf("requests = %+v", rt.requests)
	}
	if e.Name() != "bedrock:"+DefaultModelID {
		t.Errorf("Name = %s", e.Name())
	}
}

func TestEmbedder_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"throttling", errors.New("operation error Bedrock Runtime: InvokeModel, ThrottlingException: Rate exceeded"), true},
		{"unavailable", errors.New("ServiceUnavailableException: try later"), true},
		{"validation", errors.New("ValidationException: malformed input request"), false},
		{"access denied", errors.New("AccessDeniedException: not authorized"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := NewWithClient(&fakeRuntime{err: tt.err}, Config{})
			_, err := e.Embed(context.Background(), "x")
			if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
				t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
			}
			if embedding.IsPermanent(err) == tt.retryable {
				t.Errorf("permanent mismatch for %v", err)
			}
		})
	}
}

func TestNewWithClient_RejectsUnsupportedDimension(t *testing.T) {
	if _, err := NewWithClient(&fakeRuntime{}, Config{Dimension: 300}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
