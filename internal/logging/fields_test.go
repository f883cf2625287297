package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/applyd/internal/config"
)

func TestTraceFieldsWithoutSpan(t *testing.T) {
	assert.Nil(t, TraceFields(context.Background()))
}

func TestTraceFieldsWithSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	fields := TraceFields(ctx)
	require.Len(t, fields, 3)
	assert.Equal(t, "trace_id", fields[0].Key)
	assert.NotEmpty(t, fields[0].String)
	assert.Equal(t, "span_id", fields[1].Key)
	assert.Equal(t, "trace_sampled", fields[2].Key)
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("sk-12345"))
	assert.Equal(t, "api_key", f.Key)
	assert.Equal(t, "[REDACTED:8]", f.String)

	f = Secret("api_key", config.Secret(""))
	assert.Equal(t, "", f.String)
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("token", "abcd")
	assert.Equal(t, zap.String("token", "[REDACTED:4]"), f)
}
