package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactSensitiveFields(t *testing.T) {
	fields := []Field{
		String("user", "alice"),
		String("password", "hunter2"),
		String("Token", "abc"),
	}
	redacted := redactSensitiveFields(fields)

	assert.Equal(t, "alice", redacted[0].Value)
	assert.Equal(t, "[REDACTED]", redacted[1].Value)
	assert.Equal(t, "[REDACTED]", redacted[2].Value)
}

func TestZapLoggerEmitsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Info("connected",
		String("address", "db:5432"),
		Int("attempt", 2),
		Duration("elapsed", 150*time.Millisecond),
		Error("error", errors.New("transient")),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "connected", entries[0].Message)

	ctx := entries[0].ContextMap()
	assert.Equal(t, "db:5432", ctx["address"])
	assert.Equal(t, "150ms", ctx["elapsed"])
	assert.Equal(t, "transient", ctx["error"])
}

func TestErrorFieldNil(t *testing.T) {
	f := Error("error", nil)
	assert.Nil(t, f.Value)
}

func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()
	// Must not panic.
	logger.Debug("a")
	logger.Info("b", String("k", "v"))
	logger.Warn("c")
	logger.Error("d")
}
