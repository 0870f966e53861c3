package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	DefaultBedrockModel  = "anthropic.claude-3-sonnet-20240229-v1:0"
	DefaultBedrockRegion = "us-east-1"
)

// bedrockInvoker is the part of the bedrockruntime client used here
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider implements the Provider interface with Anthropic models on AWS Bedrock
type BedrockProvider struct {
	client  bedrockInvoker
	modelID string
}

// NewBedrockProvider creates a Bedrock provider using the default AWS credential chain
func NewBedrockProvider(ctx context.Context, modelID, region string) (*BedrockProvider, error) {
	if modelID == "" {
		modelID = DefaultBedrockModel
	}
	if region == "" {
		region = DefaultBedrockRegion
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

type bedrockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type bedrockContent struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Source *bedrockSource `json:"source,omitempty"`
}

type bedrockMessage struct {
	Role    string           `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

func buildBedrockBody(req Request) ([]byte, error) {
	content := make([]bedrockContent, 0, len(req.Images)+1)
	for _, img := range req.Images {
		content = append(content, bedrockContent{
			Type: "image",
			Source: &bedrockSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	content = append(content, bedrockContent{Type: "text", Text: req.Prompt})

	return json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.maxTokens(),
		System:           req.System,
		Messages:         []bedrockMessage{{Role: "user", Content: content}},
	})
}

// Complete invokes the model and joins the text blocks of the reply
func (p *BedrockProvider) Complete(ctx context.Context, req Request) (string, error) {
	body, err := buildBedrockBody(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var parts []string
	for _, c := range response.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", fmt.Errorf("empty response from Bedrock")
	}
	return text, nil
}
