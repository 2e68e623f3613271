package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientCannedResponse(t *testing.T) {
	c := NewMockClient()
	c.AddResponse("ping", "pong")

	out, err := c.Complete(context.Background(), Request{Model: "m", UserPrompt: "ping"})

	require.NoError(t, err)
	assert.Equal(t, "pong", out)
}

func TestMockClientEchoDefault(t *testing.T) {
	c := NewMockClient()

	out, err := c.Complete(context.Background(), Request{Model: "m", UserPrompt: "anything"})

	require.NoError(t, err)
	assert.Equal(t, "Mock response to: anything", out)
}

func TestMockClientScriptedFailure(t *testing.T) {
	boom := errors.New("boom")
	c := NewMockClient()
	c.FailModel("bad-model", boom)

	_, err := c.Complete(context.Background(), Request{Model: "bad-model", UserPrompt: "x"})
	assert.ErrorIs(t, err, boom)

	// Other models keep working, and clearing the failure restores the model.
	_, err = c.Complete(context.Background(), Request{Model: "good-model", UserPrompt: "x"})
	assert.NoError(t, err)

	c.FailModel("bad-model", nil)
	_, err = c.Complete(context.Background(), Request{Model: "bad-model", UserPrompt: "x"})
	assert.NoError(t, err)
}

func TestMockClientRecordsCalls(t *testing.T) {
	c := NewMockClient()

	_, err := c.Complete(context.Background(), Request{Model: "a", UserPrompt: "one"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{Model: "b", UserPrompt: "two"})
	require.NoError(t, err)

	calls := c.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Model)
	assert.Equal(t, "two", calls[1].UserPrompt)
}

func TestMockClientHonorsContextCancellation(t *testing.T) {
	c := NewMockClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, Request{Model: "m", UserPrompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreakerClientOpensAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("provider down")
	inner := NewMockClient()
	inner.FailModel("m", boom)

	c := NewBreakerClient(inner, BreakerConfig{MaxFailures: 2}, nil)

	_, err := c.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, boom)
	_, err = c.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, boom)

	// Circuit is open now; the provider is no longer reached.
	_, err = c.Complete(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, boom)
	assert.Len(t, inner.Calls(), 2)
}

func TestBreakerClientPassesThroughSuccess(t *testing.T) {
	inner := NewMockClient()
	inner.AddResponse("ping", "pong")

	c := NewBreakerClient(inner, BreakerConfig{}, nil)

	out, err := c.Complete(context.Background(), Request{Model: "m", UserPrompt: "ping"})

	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	assert.Equal(t, inner.Info(), c.Info())
}
