package requestid

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	id := FromContext(context.Background())
	assert.NotEmpty(t, id) // generates new UUID

	_, ok := Get(context.Background())
	assert.False(t, ok)
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	assert.Equal(t, "test-123", FromContext(ctx))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	Logger(WithRequestID(context.Background(), "req-1"), base).Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)

	buf.Reset()
	Logger(context.Background(), base).Info().Msg("hello")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestLogger_LeavesBaseUntouched(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	l := Logger(WithRequestID(context.Background(), "req-2"), base)
	l.Warn().Msg("scoped")
	base.Warn().Msg("plain")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"request_id":"req-2"`)
	assert.NotContains(t, string(lines[1]), "request_id")
}
