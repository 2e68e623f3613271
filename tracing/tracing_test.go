package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), Config{Enabled: true, Exporter: "jaegerx"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter")
}

func TestSetupNoopExporter(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: true, Exporter: "noop"})

	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpanWithNoopProvider(t *testing.T) {
	_, err := Setup(context.Background(), Config{})
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "agent.ask")
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	span.SetAttributes(StringAttr("model", "gpt-4o"), IntAttr("max_tokens", 512))
	RecordError(span, errors.New("boom"))
	SetOK(span)
	span.End()
}
