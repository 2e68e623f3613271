// Package model defines the provider-agnostic language-model endpoint
// contract consumed by the agent request pipeline.
//
// Core goals:
//   - Keep the request shape minimal: one model id, one system prompt, one
//     user prompt, sampling parameters
//   - Let the routing layer choose the model per call (the model id travels
//     in the Request, not in the adapter)
//   - Facilitate lightweight mocking for tests (MockClient)
//
// Providers (e.g. OpenAI, Anthropic) implement the Client interface from this
// package so higher layers (agents, chains) remain decoupled from vendor SDKs.
package model

import (
	"context"
	"fmt"
	"sync"
)

// Request captures one completion call. Model is resolved by the routing
// layer before the request reaches a provider.
type Request struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserPrompt   string  `json:"user_prompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
}

// Info contains metadata about a client implementation.
type Info struct {
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Client is the minimal interface required by agents to drive generation.
// Errors returned from Complete trigger the caller's fallback chain.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Info returns information about the client implementation.
	Info() Info
}

// MockClient is a lightweight in-memory Client useful for tests & examples.
// Responses are keyed by user prompt; failures can be scripted per model so
// fallback paths are exercisable without a live provider.
type MockClient struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	calls     []Request
}

// NewMockClient constructs an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		responses: make(map[string]string),
		failures:  make(map[string]error),
	}
}

// AddResponse registers a deterministic canned completion for a user prompt.
func (m *MockClient) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailModel scripts an error for every call targeting the given model.
// Passing a nil error clears the failure.
func (m *MockClient) FailModel(model string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, model)
		return
	}
	m.failures[model] = err
}

// Calls returns a copy of every request seen so far, in order.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]Request, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Complete implements Client; returns the canned response or a generated echo.
func (m *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if err, ok := m.failures[req.Model]; ok {
		return "", err
	}

	if resp, ok := m.responses[req.UserPrompt]; ok {
		return resp, nil
	}

	return fmt.Sprintf("Mock response to: %s", req.UserPrompt), nil
}

// Info implements Client.
func (m *MockClient) Info() Info { return Info{Provider: "mock"} }
