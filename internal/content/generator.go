// Package content produces the text of proactive care messages.
package content

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jialangli/emotion-companion/internal/domain"
)

// ErrEmptyReply is returned when the model answers with no usable text.
var ErrEmptyReply = errors.New("empty reply from model")

// Generator produces message text for a notification scenario.
type Generator interface {
	Generate(ctx context.Context, scenario, directive string) (string, error)
}

// Directive returns the situational instruction for a category.
func Directive(cat domain.Category) string {
	switch cat {
	case domain.Morning:
		return "It is morning. Write a warm good-morning greeting: ask whether they slept well and encourage a good start to the day."
	case domain.Evening:
		return "It is bedtime. Write a cosy good-night message: acknowledge the day's effort and wish them sweet dreams."
	case domain.Care:
		return "It is early evening, the end of the workday. Check in on how work went, whether they are tired, and say you missed them."
	}
	return "Write a short, warm message of care."
}

const systemPromptFmt = `You are the user's affectionate companion. %s
Rules:
1. Keep the tone gentle, natural and caring.
2. Use a pet name.
3. Stay under 50 words.
4. A couple of emoji are welcome.
5. This message is unprompted: do not ask questions that wait for an answer, just show care.`

// OpenAIGenerator calls any OpenAI-compatible chat completions API
// (DeepSeek, Volcengine Ark, OpenAI).
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds a generator for the given endpoint.
func NewOpenAIGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, scenario, directive string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPromptFmt, directive)},
			{Role: openai.ChatMessageRoleUser, Content: "Please write a " + scenario + " message."},
		},
		MaxTokens:   200,
		Temperature: 0.8,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// StaticGenerator picks from canned messages. Used when no model is configured.
type StaticGenerator struct {
	messages map[string][]string
}

// NewStaticGenerator returns a generator with built-in messages per category.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{messages: map[string][]string{
		domain.Morning.String(): {
			"Good morning, sunshine ☀️ Hope you slept well. Today is yours!",
			"Morning, dear 🌼 Take a deep breath, you've got this.",
		},
		domain.Evening.String(): {
			"Good night, sweetheart 🌙 You did enough today. Sleep tight.",
			"Time to rest, love 💤 Sweet dreams.",
		},
		domain.Care.String(): {
			"Hey dear, work's over 🧡 Hope today was kind to you. I missed you.",
			"Long day? Come rest a little, I'm right here 🤗",
		},
	}}
}

// Generate implements Generator.
func (g *StaticGenerator) Generate(_ context.Context, scenario, _ string) (string, error) {
	opts := g.messages[scenario]
	if len(opts) == 0 {
		return "", fmt.Errorf("%w: no canned message for %q", ErrEmptyReply, scenario)
	}
	return opts[rand.IntN(len(opts))], nil
}
