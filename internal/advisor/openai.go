package advisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/canecast/internal/httputil"
	"github.com/lox/canecast/internal/models"
)

// OpenAINarrator writes advisories with an OpenAI chat model.
type OpenAINarrator struct {
	client  openai.Client
	model   openai.ChatModel
	maxWait time.Duration
}

// NewOpenAINarrator creates a narrator. An empty model selects a small,
// inexpensive default. Extra options are applied after the defaults.
func NewOpenAINarrator(apiKey, model string, opts ...option.RequestOption) (*OpenAINarrator, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	chatModel := openai.ChatModel(model)
	if model == "" {
		chatModel = openai.ChatModelGPT4oMini
	}
	client := openai.NewClient(append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httputil.NewClient(httputil.DefaultTimeout)),
		option.WithMaxRetries(0), // complete retries with backoff
	}, opts...)...)
	return &OpenAINarrator{
		client:  client,
		model:   chatModel,
		maxWait: 30 * time.Second,
	}, nil
}

func (n *OpenAINarrator) Narrate(ctx context.Context, rec models.PredictionRecord, steps []Step) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: n.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(rec, steps)),
		},
	}

	text, err := complete(ctx, n.maxWait, retryableOpenAI, func() (string, error) {
		resp, err := n.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	log.Printf("advisor: openai narrative for %s (%d chars)", rec.ID, len(text))
	return text, nil
}

// retryableOpenAI reports rate limiting and server-side failures.
func retryableOpenAI(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

