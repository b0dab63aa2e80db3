package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_LevelsAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "debug", "text")
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", "msg=dbg", "a=1",
		"level=INFO", "msg=inf", "b=2",
		"level=WARN", "msg=wrn", "c=3",
		"level=ERROR", "msg=err", "d=4",
	} {
		assert.Contains(t, out, want)
	}
}

func TestSlogLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "info", "text")

	log.With("component", "rag", "user", "alice").Info(context.Background(), "hello", "k", "v")

	out := buf.String()
	for _, want := range []string{"component=rag", "user=alice", "k=v", "msg=hello"} {
		assert.Contains(t, out, want)
	}
}

func TestNew_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(&buf, "warn", "json")

	log.Info(context.Background(), "dropped")
	log.Warn(context.Background(), "kept")

	out := buf.String()
	require.NotContains(t, out, "dropped")
	require.Contains(t, out, `"msg":"kept"`)
}

func TestParseLevel_Unknown(t *testing.T) {
	assert.Equal(t, parseLevel("info"), parseLevel("verbose"))
}
