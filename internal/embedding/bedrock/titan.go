// Package bedrock embeds text with Amazon Titan text embedding models on AWS Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/embedding"
)

const DefaultModelID = "amazon.titan-embed-text-v2:0"

// InvokeModelAPI is the subset of the Bedrock runtime client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type Config struct {
	Region    string
	ModelID   string
	Dimension int
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embedder calls Titan once per text; Titan has no batch endpoint.
type Embedder struct {
	api       InvokeModelAPI
	modelID   string
	dimension int
}

// New loads AWS credentials from the default chain and creates an embedder.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return NewWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg)
}

// NewWithClient creates an embedder over an existing Bedrock client.
func NewWithClient(api InvokeModelAPI, cfg Config) (*Embedder, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 1024
	}
	switch cfg.Dimension {
	case 256, 512, 1024:
	default:
		if strings.Contains(cfg.ModelID, "v2") {
			return nil, fmt.Errorf("%w: titan v2 supports 256, 512 or 1024 dimensions, got %d", domain.ErrInvalidConfig, cfg.Dimension)
		}
	}
	return &Embedder{api: api, modelID: cfg.ModelID, dimension: cfg.Dimension}, nil
}

func (e *Embedder) Name() string   { return "bedrock:" + e.modelID }
func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := titanRequest{InputText: text, Normalize: true}
	if strings.Contains(e.modelID, "v2") {
		req.Dimensions = e.dimension
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, embedding.Permanent(fmt.Errorf("unable to serialize titan request: %w", err))
	}

	output, err := e.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		Body:        body,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isRetryableError(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
		return nil, embedding.Permanent(fmt.Errorf("%w: unable to invoke titan model: %w", domain.ErrEmbeddingUnavailable, err))
	}

	var resp titanResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal titan response: %w", domain.ErrEmbeddingUnavailable, err)
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func isRetryableError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"ThrottlingException", "TooManyRequestsException", "Rate exceeded",
		"InternalServerException", "ServiceUnavailableException", "ModelNotReadyException",
		"ModelTimeoutException", "StatusCode: 500", "StatusCode: 503",
		"connection reset", "EOF", "timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
