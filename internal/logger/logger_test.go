package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupSelectsHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"task":7`},
		{"JSON", `"task":7`},
		{"text", "task=7"},
		{"logfmt", "task=7"},
		{"pretty", "[task=7]"},
		{"unknown", "[task=7]"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		Setup(&buf, tc.format, "debug").Debug("task finished", "task", 7)
		assert.Contains(t, buf.String(), tc.want, "format %s", tc.format)
	}
}

func TestJSONCarriesSourceOnlyAtDebug(t *testing.T) {
	t.Parallel()

	var debug, info bytes.Buffer
	JSON(&debug, slog.LevelDebug).Info("hello", "key", "value")
	JSON(&info, slog.LevelInfo).Info("hello", "key", "value")

	assert.Contains(t, debug.String(), `"source"`)
	assert.NotContains(t, info.String(), `"source"`)
	assert.Contains(t, info.String(), `"key":"value"`)
	assert.Contains(t, info.String(), `"level":"INFO"`)
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Setup(&buf, "text", "error")
	log.Info("dropped")
	log.Warn("slow task")
	assert.Zero(t, buf.Len(), buf.String())

	log.Error("device fault")
	assert.Contains(t, buf.String(), "device fault")
}

func TestWithAndGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("component", "sched").WithGroup("stream")
	log.Info("picked", "index", 2)
	assert.Contains(t, buf.String(), `"component":"sched"`)
	assert.Contains(t, buf.String(), `"stream":{"index":2}`)
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	require.NotNil(t, FromContext(context.Background()))

	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("roundtrip test")
	assert.Contains(t, buf.String(), "roundtrip test")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"trace", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, ParseLevel(tc.input), "ParseLevel(%q)", tc.input)
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	// Must not panic.
	Discard().With("device", 0).WithGroup("sched").Error("dropped")
}

func newPlainHandler(buf *bytes.Buffer) *PrettyHandler {
	h := NewPrettyHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h.color = false
	return h
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()

	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
	assert.True(t, NewPrettyHandler(&bytes.Buffer{}, nil).Enabled(context.Background(), slog.LevelInfo))
}

func TestPrettyScopePrefix(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(newPlainHandler(&buf)).With("env", "0f8fad5b-d9cb-469f-a165-70867728950e", "device", 1)
	log.Warn("task pending", "kind", "KERNEL", "task", 12, "elapsed", 10*time.Second)

	output := buf.String()
	assert.Contains(t, output, "WARN  [env=0f8fad5b device=1 task=12 kind=KERNEL] task pending elapsed=10s")
	assert.NotContains(t, output, "\033")
}

func TestPrettyGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPlainHandler(&buf).WithAttrs([]slog.Attr{slog.String("outer", "x")})
	h = h.WithGroup("sched").WithAttrs([]slog.Attr{slog.Int("streams", 4)})
	slog.New(h.WithGroup("pool")).Info("ready", "task", 3)

	output := buf.String()
	for _, want := range []string{"outer=x", "sched.streams=4", "sched.pool.task=3"} {
		assert.Contains(t, output, want)
	}
	assert.NotContains(t, output, "sched.outer")

	base := newPlainHandler(&buf)
	assert.Same(t, base, base.WithGroup(""))
}

func TestPrettyValues(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	slog.New(newPlainHandler(&buf)).Error("device fault",
		"error", errors.New("out of memory"),
		"op", "copy h2d",
		"name", "sim0",
		"bytes", uint64(4096),
		"wait", 1500*time.Microsecond,
		slog.Group("box", "x", 4, "y", 2),
	)
	output := buf.String()
	for _, want := range []string{
		`error="out of memory"`,
		`op="copy h2d"`,
		"name=sim0",
		"bytes=4096",
		"wait=1.5ms",
		"box={x=4 y=2}",
	} {
		assert.Contains(t, output, want)
	}
	assert.True(t, strings.HasSuffix(output, "\n"))
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected bool
	}{
		{"simple", false},
		{"has space", true},
		{"has\ttab", true},
		{"has\nnewline", true},
		{`has"quote`, true},
		{"k=v", true},
		{"", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, needsQuoting(tc.input), "needsQuoting(%q)", tc.input)
	}
}
