package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/dangattringer/rust-rag/internal/domain"
)

const (
	DefaultClaudeModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	anthropicVersion     = "bedrock-2023-05-31"
)

// InvokeModelAPI is the subset of the Bedrock runtime client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type ClaudeConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float64
}

// Claude answers with an Anthropic model on AWS Bedrock.
type Claude struct {
	api         InvokeModelAPI
	modelID     string
	maxTokens   int
	temperature float64
}

var _ domain.Generator = (*Claude)(nil)

type claudeMessageRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Temperature      float64         `json:"temperature,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeMessageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// NewClaude loads AWS credentials from the default chain.
func NewClaude(ctx context.Context, cfg ClaudeConfig) (*Claude, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return NewClaudeWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func NewClaudeWithClient(api InvokeModelAPI, cfg ClaudeConfig) *Claude {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultClaudeModelID
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	return &Claude{api: api, modelID: cfg.ModelID, maxTokens: cfg.MaxTokens, temperature: cfg.Temperature}
}

func (c *Claude) Name() string { return "bedrock:" + c.modelID }

func (c *Claude) Generate(ctx context.Context, query string, result domain.RetrievalResult) (string, error) {
	if len(result.Results) == 0 {
		return NoAnswer, nil
	}
	body, err := json.Marshal(claudeMessageRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        c.maxTokens,
		System:           systemPrompt,
		Temperature:      c.temperature,
		Messages:         []claudeMessage{{Role: "user", Content: BuildPrompt(query, result)}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to invoke model: %w", err)
	}

	var response claudeMessageResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal bedrock response: %w", err)
	}
	var b strings.Builder
	for _, part := range response.Content {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
