// Package llm provides the model-backed collaborators: a text embedding
// encoder and an answer generator over the OpenAI API, plus an HTTP client
// for a CLIP-style image embedding service.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docrag/internal/model"
)

const (
	defaultEmbedModel      = "text-embedding-3-small"
	defaultChatModel       = "gpt-4o-mini"
	defaultEncodeTimeout   = 30 * time.Second
	defaultGenerateTimeout = 90 * time.Second
)

// OpenAIClient implements model.TextEncoder and model.Generator. Every call
// is bounded by a per-operation timeout so a stalled backend fails the
// request instead of hanging it.
type OpenAIClient struct {
	api             *openai.Client
	embedModel      string
	chatModel       string
	encodeTimeout   time.Duration
	generateTimeout time.Duration
}

type OpenAIOptions struct {
	APIKey          string
	BaseURL         string
	EmbedModel      string
	ChatModel       string
	EncodeTimeout   time.Duration
	GenerateTimeout time.Duration
}

func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("missing OpenAI API key")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(opts.BaseURL); baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	client := &OpenAIClient{
		api:             openai.NewClientWithConfig(cfg),
		embedModel:      strings.TrimSpace(opts.EmbedModel),
		chatModel:       strings.TrimSpace(opts.ChatModel),
		encodeTimeout:   opts.EncodeTimeout,
		generateTimeout: opts.GenerateTimeout,
	}
	if client.embedModel == "" {
		client.embedModel = defaultEmbedModel
	}
	if client.chatModel == "" {
		client.chatModel = defaultChatModel
	}
	if client.encodeTimeout <= 0 {
		client.encodeTimeout = defaultEncodeTimeout
	}
	if client.generateTimeout <= 0 {
		client.generateTimeout = defaultGenerateTimeout
	}
	return client, nil
}

func (c *OpenAIClient) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, encodeErr("embedding input is empty", false, nil)
	}
	ctx, cancel := context.WithTimeout(ctx, c.encodeTimeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, encodeErr("embedding request failed", retryableAPIError(err), err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, encodeErr("embedding response had no vector", false, nil)
	}
	return resp.Data[0].Embedding, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", generateErr("chat completion failed", retryableAPIError(err), err)
	}
	if len(resp.Choices) == 0 {
		return "", generateErr("chat completion returned no choices", false, nil)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", generateErr("chat completion returned empty content", false, nil)
	}
	return text, nil
}

// retryableAPIError reports whether an OpenAI API failure is worth another
// attempt: rate limits, server-side errors, and transport failures qualify,
// auth and validation errors do not.
func retryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0 ||
			reqErr.HTTPStatusCode == http.StatusTooManyRequests ||
			reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	// Plain transport errors (timeouts, connection resets) surface as
	// wrapped url.Error values.
	return true
}

func encodeErr(message string, retryable bool, cause error) error {
	return &model.BackendError{
		Stage:     "encode",
		Message:   message,
		Retryable: retryable,
		Cause:     wrapCause(model.ErrEncodingUnavailable, cause),
	}
}

func generateErr(message string, retryable bool, cause error) error {
	return &model.BackendError{
		Stage:     "generate",
		Message:   message,
		Retryable: retryable,
		Cause:     wrapCause(model.ErrGenerationUnavailable, cause),
	}
}

func wrapCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
