package ai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	reply string
	err   error
	got   []Request
}

func (f *fakeProvider) Complete(_ context.Context, req Request) (string, error) {
	f.got = append(f.got, req)
	return f.reply, f.err
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "bare", input: `["a","b"]`, want: `["a","b"]`, ok: true},
		{name: "json fence", input: "```json\n[\"a\"]\n```", want: `["a"]`, ok: true},
		{name: "plain fence", input: "```\n[1, 2]\n```", want: `[1, 2]`, ok: true},
		{name: "array on fence line", input: "```json [\"#a\"]\n```", want: `["#a"]`, ok: true},
		{name: "one-line fence", input: "```[\"#a\", \"#b\"]```", want: `["#a", "#b"]`, ok: true},
		{name: "surrounding prose", input: `Sure! Here you go: [{"name":"x"}] hope it helps`, want: `[{"name":"x"}]`, ok: true},
		{name: "nested arrays", input: `[[1],[2]] trailing`, want: `[[1],[2]]`, ok: true},
		{name: "no array", input: `{"name":"x"}`, ok: false},
		{name: "malformed", input: `[1, 2`, ok: false},
		{name: "invalid span", input: `[oops] and [more]`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONArray(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseStringArray(t *testing.T) {
	assert.Equal(t, []string{"#a", "text=Save"}, ParseStringArray("```json\n[\"#a\", 3, \"\", \"text=Save\"]\n```"))
	assert.Nil(t, ParseStringArray("I could not find anything"))
	assert.Nil(t, ParseStringArray(`[{"selector": "#a"}]`))
}

func TestGenerateTestCases(t *testing.T) {
	p := &fakeProvider{reply: "```json\n" + `[
  {"name": "Login works", "steps": [
    {"action": "login_via_login_gov", "username_env": "LOGIN_USERNAME"},
    {"action": "assert_element_visible", "selector": {"kind": "testid", "value": "user-menu"}}
  ]}
]` + "\n```"}

	cases, err := GenerateTestCases(context.Background(), p, "  As a user I can log in.  ", "https://app.example")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "Login works", cases[0].Name)
	require.Len(t, cases[0].Steps, 2)
	assert.Equal(t, "LOGIN_USERNAME", cases[0].Steps[0].UsernameEnv)

	d, err := cases[0].Steps[1].Descriptor()
	require.NoError(t, err)
	assert.Equal(t, "[data-testid='user-menu']", d.String())

	require.Len(t, p.got, 1)
	assert.Contains(t, p.got[0].Prompt, "Base URL: https://app.example")
	assert.Contains(t, p.got[0].Prompt, "User Story:\nAs a user I can log in.\n")
	assert.Contains(t, p.got[0].Prompt, "login_via_login_gov")
}

func TestGenerateTestCasesFailures(t *testing.T) {
	ctx := context.Background()

	_, err := GenerateTestCases(ctx, &fakeProvider{reply: "no tests today"}, "story", "https://app.example")
	assert.ErrorIs(t, err, ErrNoTestCases)

	_, err = GenerateTestCases(ctx, &fakeProvider{reply: "[]"}, "story", "https://app.example")
	assert.ErrorIs(t, err, ErrNoTestCases)

	_, err = GenerateTestCases(ctx, &fakeProvider{reply: `["not a case"]`}, "story", "https://app.example")
	assert.ErrorIs(t, err, ErrNoTestCases)

	boom := errors.New("throttled")
	_, err = GenerateTestCases(ctx, &fakeProvider{err: boom}, "story", "https://app.example")
	assert.ErrorIs(t, err, boom)
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(context.Background(), "llama", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider: llama")
}

func TestNewClaudeProviderRequiresKey(t *testing.T) {
	t.Setenv("STORYRUN_ANTHROPIC_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClaudeProvider("")
	assert.Error(t, err)

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	p, err := NewClaudeProvider("")
	require.NoError(t, err)
	assert.NotEmpty(t, p.model)
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	t.Setenv("STORYRUN_OPENAI_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIProvider("")
	assert.Error(t, err)

	t.Setenv("STORYRUN_OPENAI_KEY", "sk-test")
	p, err := NewOpenAIProvider("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", p.model)
}

type fakeInvoker struct {
	body  []byte
	model string
	reply string
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.body = in.Body
	f.model = aws.ToString(in.ModelId)
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.reply)}, nil
}

func TestBedrockComplete(t *testing.T) {
	inv := &fakeInvoker{reply: `{"content":[{"type":"text","text":"[\"#a\"]"}],"stop_reason":"end_turn"}`}
	p := &BedrockProvider{client: inv, modelID: DefaultBedrockModel}

	out, err := p.Complete(context.Background(), Request{
		Prompt: "fix it",
		Images: []Image{{MediaType: "image/jpeg", Data: []byte{0xff, 0xd8}}},
	})
	require.NoError(t, err)
	assert.Equal(t, `["#a"]`, out)
	assert.Equal(t, DefaultBedrockModel, inv.model)

	var body struct {
		AnthropicVersion string `json:"anthropic_version"`
		MaxTokens        int    `json:"max_tokens"`
		Messages         []struct {
			Role    string `json:"role"`
			Content []struct {
				Type   string `json:"type"`
				Text   string `json:"text"`
				Source struct {
					Type      string `json:"type"`
					MediaType string `json:"media_type"`
					Data      string `json:"data"`
				} `json:"source"`
			} `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(inv.body, &body))
	assert.Equal(t, "bedrock-2023-05-31", body.AnthropicVersion)
	assert.Equal(t, DefaultMaxTokens, body.MaxTokens)
	require.Len(t, body.Messages, 1)
	require.Len(t, body.Messages[0].Content, 2)
	assert.Equal(t, "image", body.Messages[0].Content[0].Type)
	assert.Equal(t, "base64", body.Messages[0].Content[0].Source.Type)
	assert.Equal(t, "image/jpeg", body.Messages[0].Content[0].Source.MediaType)
	assert.Equal(t, "/9g=", body.Messages[0].Content[0].Source.Data)
	assert.Equal(t, "fix it", body.Messages[0].Content[1].Text)
}

func TestBedrockEmptyReply(t *testing.T) {
	p := &BedrockProvider{client: &fakeInvoker{reply: `{"content":[]}`}, modelID: "m"}
	_, err := p.Complete(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}
