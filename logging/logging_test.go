package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLoggerRoutesByLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewDefaultLoggerWithWriters(&out, &errOut)

	l.Debug("hidden")
	l.Info("decoded", Fields{"frames": 12, "component": "decoder"})
	l.Warn("low clarity")
	l.Error(errors.New("boom"), "model failed")

	assert.Equal(t, "[INFO] decoded component=decoder frames=12\n", out.String())
	assert.Contains(t, errOut.String(), "[WARN] low clarity")
	assert.Contains(t, errOut.String(), "[ERROR] model failed: boom")
}

func TestDefaultLoggerChildrenShareLevel(t *testing.T) {
	var out bytes.Buffer
	parent := NewDefaultLoggerWithWriters(&out, &out)
	child := parent.WithFields(Fields{"component": "optimizer"})

	parent.SetLevel(DebugLevel)
	child.Debug("combination scored", Fields{"index": 3})

	assert.Equal(t, "[DEBUG] combination scored component=optimizer index=3\n", out.String())
}

func TestDefaultLoggerWithContext(t *testing.T) {
	var out bytes.Buffer
	l := NewDefaultLoggerWithWriters(&out, &out)

	ctx := ContextWithFields(context.Background(), Fields{"run_id": "abc"})
	l.WithContext(ctx).Info("started")

	assert.Equal(t, "[INFO] started run_id=abc\n", out.String())
}

func TestFatalUsesExitHook(t *testing.T) {
	var out bytes.Buffer
	l := NewDefaultLoggerWithWriters(&out, &out)
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatal(errors.New("gone"), "cannot continue")

	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "[FATAL] cannot continue: gone")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
}

func TestSetGlobalLoggerNilInstallsNoOp(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	SetGlobalLogger(nil)
	_, ok := GetGlobalLogger().(*NoOpLogger)
	assert.True(t, ok)
}

func TestZapLoggerFieldsAndLevel(t *testing.T) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	core, logs := observer.New(level)
	l := NewZapLoggerFromCore(core, level)

	l.Debug("dropped")
	l.WithFields(Fields{"component": "aligner"}).Info("offset estimated", Fields{"offset_ms": 23.2})
	l.SetLevel(DebugLevel)
	l.Debug("kept")
	l.Error(errors.New("bad"), "failed")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "offset estimated", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "aligner", ctx["component"])
	assert.Equal(t, 23.2, ctx["offset_ms"])
	assert.Equal(t, "kept", entries[1].Message)
	assert.Equal(t, "bad", entries[2].ContextMap()["error"])
}
