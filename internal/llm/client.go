// Package llm wraps the OpenAI chat API behind the request queue, with
// per-call cost accounting fed into the usage ledger.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ktmr/autotrack/internal/queue"
)

// ErrNoCredential is returned when a completion is requested without an
// API key configured.
var ErrNoCredential = errors.New("no API credential configured")

// ChatAPI is the slice of the OpenAI client the wrapper needs. Tests
// substitute a fake.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Recorder receives one entry per completed API call.
type Recorder interface {
	Record(ctx context.Context, model string, tokensIn, tokensOut int, cost float64, requestType string) error
}

// Request is one chat completion to run.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// RequestType labels the call in the usage ledger.
	RequestType string
}

// Result is the completion text plus its accounted cost.
type Result struct {
	Content   string
	TokensIn  int
	TokensOut int
	Cost      float64
}

// Client funnels chat completions through the shared request queue and
// records every call's cost.
type Client struct {
	api      ChatAPI
	queue    *queue.Queue
	recorder Recorder
	timeout  time.Duration
	hasKey   bool
}

// NewClient builds a client from an API key. An empty key yields a
// client whose completions fail with ErrNoCredential.
func NewClient(apiKey string, q *queue.Queue, recorder Recorder, timeout time.Duration) *Client {
	var api ChatAPI
	if apiKey != "" {
		api = openai.NewClient(apiKey)
	}
	return newClient(api, q, recorder, timeout)
}

func newClient(api ChatAPI, q *queue.Queue, recorder Recorder, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		api:      api,
		queue:    q,
		recorder: recorder,
		timeout:  timeout,
		hasKey:   api != nil,
	}
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return c.hasKey
}

// Complete runs one chat completion through the queue, blocking until it
// has executed or failed permanently.
func (c *Client) Complete(ctx context.Context, req Request) (Result, error) {
	if !c.hasKey {
		return Result{}, ErrNoCredential
	}

	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	var result Result
	err := c.queue.Do(ctx, func(qctx context.Context) error {
		callCtx, cancel := context.WithTimeout(qctx, c.timeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       req.Model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}

		result = Result{
			Content:   resp.Choices[0].Message.Content,
			TokensIn:  resp.Usage.PromptTokens,
			TokensOut: resp.Usage.CompletionTokens,
			Cost:      CalculateCost(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}

	if c.recorder != nil {
		if rerr := c.recorder.Record(ctx, req.Model, result.TokensIn, result.TokensOut, result.Cost, req.RequestType); rerr != nil {
			log.Warn().Err(rerr).Msg("Failed to record API usage")
		}
	}
	return result, nil
}

// Retryable classifies OpenAI API failures worth retrying, falling back
// to the queue's transport-level checks.
func Retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return queue.DefaultRetryable(err)
}
