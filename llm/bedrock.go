// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const bedrockDefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// bedrockInvoker is the InvokeModel surface, extracted so tests can
// stub the AWS client.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider invokes Anthropic-family models through AWS Bedrock
// with SigV4 authentication.
type BedrockProvider struct {
	client bedrockInvoker
	model  string
	region string
}

// NewBedrockProvider creates an adapter using a static key pair. The
// credential is "ACCESS_KEY_ID:SECRET_ACCESS_KEY" as stored in the
// vault; empty means the default AWS credential chain (IAM role).
func NewBedrockProvider(ctx context.Context, region, credential, model string) (*BedrockProvider, error) {
	if region == "" {
		return nil, fmt.Errorf("bedrock region is required")
	}
	if model == "" {
		model = bedrockDefaultModel
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if credential != "" {
		accessKey, secretKey, ok := strings.Cut(credential, ":")
		if !ok {
			return nil, fmt.Errorf("bedrock credential must be ACCESS_KEY_ID:SECRET_ACCESS_KEY")
		}
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  model,
		region: region,
	}, nil
}

// BedrockFactory returns a Factory for the given region.
func BedrockFactory(region string) Factory {
	return func(credential string) (Provider, error) {
		return NewBedrockProvider(context.Background(), region, credential, "")
	}
}

// Name returns the routing identifier.
func (p *BedrockProvider) Name() string { return "bedrock" }

// Capabilities lists served request classes.
func (p *BedrockProvider) Capabilities() []string {
	return []string{"chat-large", "chat-small", "reasoning"}
}

type bedrockAnthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      *float64           `json:"temperature,omitempty"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete invokes the model through Bedrock.
func (p *BedrockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultTokens
	}

	apiReq := bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           req.SystemPrompt,
		Messages:         []anthropicMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.Temperature >= 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke failed: %w", err)
	}

	var apiResp bedrockAnthropicResponse
	if err := json.Unmarshal(output.Body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content:      content.String(),
		Model:        model,
		FinishReason: apiResp.StopReason,
		Usage: UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}
