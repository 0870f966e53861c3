package ai

import (
	"context"
	"fmt"
	"strings"
)

// DefaultMaxTokens bounds a completion when the request leaves it unset
const DefaultMaxTokens = 2000

// Image is an inline image attached to a request
type Image struct {
	MediaType string // e.g. "image/jpeg"
	Data      []byte
}

// Request is a single-turn prompt to a reasoning backend
type Request struct {
	System    string
	Prompt    string
	Images    []Image
	MaxTokens int
}

func (r Request) maxTokens() int {
	if r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return r.MaxTokens
}

// Provider defines the interface for a text-generation backend
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// NewProvider creates a new AI provider based on the provider name.
// region is only used by bedrock.
func NewProvider(ctx context.Context, name, model, region string) (Provider, error) {
	switch strings.ToLower(name) {
	case "claude", "anthropic":
		return NewClaudeProvider(model)
	case "openai", "gpt":
		return NewOpenAIProvider(model)
	case "bedrock":
		return NewBedrockProvider(ctx, model, region)
	case "gemini", "google":
		return NewGeminiProvider(ctx, model)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: bedrock, claude, openai, gemini)", name)
	}
}
