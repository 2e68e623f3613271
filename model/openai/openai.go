// Package openai provides an implementation of model.Client using the OpenAI
// Chat Completions API. It adapts Cadence's normalized Request structure into
// the SDK's message format; the concrete model id is taken from each request
// so one client serves every routed model of the provider.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/cadencehq/cadence/model"
)

// Options configure the OpenAI client adapter.
type Options struct {
	// DefaultMaxTokens applies when a request does not set MaxTokens.
	DefaultMaxTokens int64
}

// Client wraps the OpenAI Chat Completions API behind the generic model.Client interface.
type Client struct {
	client *openai.Client
	opts   Options
}

// NewClient creates a new OpenAI client using the official SDK with ambient
// credentials (OPENAI_API_KEY).
func NewClient(optFns ...func(o *Options)) *Client {
	client := openai.NewClient()
	return NewClientFromSDK(&client, optFns...)
}

// NewClientFromSDK creates a new adapter from an existing SDK client.
func NewClientFromSDK(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := Options{
		DefaultMaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

// Complete implements model.Client via a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req model.Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = c.opts.DefaultMaxTokens
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               req.Model,
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// Info returns metadata describing this OpenAI client implementation.
func (c *Client) Info() model.Info {
	return model.Info{Provider: "openai"}
}
