// Package anthropic provides a model.Client wrapper for the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cadencehq/cadence/model"
)

// Options configures the Anthropic client adapter.
type Options struct {
	// DefaultMaxTokens applies when a request does not set MaxTokens.
	DefaultMaxTokens int64
	// APIKey overrides ambient credentials (ANTHROPIC_API_KEY).
	APIKey string
}

// Client wraps the Anthropic Messages API behind the generic model.Client interface.
type Client struct {
	client *anthropic.Client
	opts   Options
}

// NewClient creates a new Anthropic client using the official SDK.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		DefaultMaxTokens: 4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Client{
		client: &client,
		opts:   opts,
	}
}

// NewClientFromSDK creates a new adapter from an existing SDK client.
func NewClientFromSDK(client *anthropic.Client, optFns ...func(o *Options)) *Client {
	opts := Options{
		DefaultMaxTokens: 4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Client{
		client: client,
		opts:   opts,
	}
}

// Complete implements model.Client via a non-streaming message call.
func (c *Client) Complete(ctx context.Context, req model.Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = c.opts.DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt))},
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	return sb.String(), nil
}

// Info returns metadata describing this Anthropic client implementation.
func (c *Client) Info() model.Info {
	return model.Info{Provider: "anthropic"}
}
