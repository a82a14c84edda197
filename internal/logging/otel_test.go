package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewCore_StdoutOnly(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = true
	cfg.Output.OTEL = false

	core, err := newCore(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, core)
}

func TestNewCore_BothOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = true
	cfg.Output.OTEL = true

	// For testing, pass nil provider
	// In production, would provide real OTEL provider
	core, err := newCore(cfg, nil)

	// Should succeed with stdout, skip OTEL if provider nil
	require.NoError(t, err)
	assert.NotNil(t, core)
}

func TestNewCore_NoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = false

	_, err := newCore(cfg, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least one output")
}

func TestNewCore_CustomWriter(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Output.Stdout = true
	cfg.Output.OTEL = false
	cfg.Output.Writer = zapcore.AddSync(&buf)

	core, err := newCore(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, core.Write(zapcore.Entry{Level: zapcore.InfoLevel, Message: "to buffer"}, nil))
	assert.Contains(t, buf.String(), `"to buffer"`)
}
