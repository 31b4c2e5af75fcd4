package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitAcceptsKnownLevels(t *testing.T) {
	require.NoError(t, Init("debug"))
	require.True(t, Logger().Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init("warn"))
	require.False(t, Logger().Core().Enabled(zapcore.InfoLevel))
}

func TestInitFallsBackToInfoOnUnknownLevel(t *testing.T) {
	require.NoError(t, Init("verbose"))
	require.True(t, Logger().Core().Enabled(zapcore.InfoLevel))
	require.False(t, Logger().Core().Enabled(zapcore.DebugLevel))
}

func TestWithModuleReturnsChildLogger(t *testing.T) {
	require.NoError(t, Init("info"))
	child := WithModule("billing")
	require.NotNil(t, child)
}
