package advisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lox/canecast/internal/httputil"
	"github.com/lox/canecast/internal/models"
)

// AnthropicMessager is the subset of the Anthropic client used here.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicNarrator writes advisories with a Claude model.
type AnthropicNarrator struct {
	messages AnthropicMessager
	model    anthropic.Model
	maxWait  time.Duration
}

func NewAnthropicNarrator(apiKey, model string) (*AnthropicNarrator, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key not set")
	}
	c := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httputil.NewClient(httputil.DefaultTimeout)),
		option.WithMaxRetries(0),
	)
	return newAnthropicNarrator(&c.Messages, model), nil
}

func newAnthropicNarrator(m AnthropicMessager, model string) *AnthropicNarrator {
	chatModel := anthropic.Model(model)
	if model == "" {
		chatModel = anthropic.ModelClaudeSonnet4_20250514
	}
	return &AnthropicNarrator{messages: m, model: chatModel, maxWait: 30 * time.Second}
}

func (a *AnthropicNarrator) Narrate(ctx context.Context, rec models.PredictionRecord, steps []Step) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   512,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(rec, steps)))},
		Temperature: anthropic.Float(0.2),
	}

	text, err := complete(ctx, a.maxWait, retryableAnthropic, func() (string, error) {
		resp, err := a.messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("messages: %w", err)
		}
		var sb strings.Builder
		for _, b := range resp.Content {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String(), nil
	})
	if err != nil {
		return "", err
	}
	log.Printf("advisor: anthropic narrative for %s (%d chars)", rec.ID, len(text))
	return text, nil
}

func retryableAnthropic(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}
