package logger

import (
	"testing"

	"github.com/metriqhq/metriq/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_LevelParsing(t *testing.T) {
	log, err := New("debug")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = New("")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud")
	assert.Error(t, err)
}

func TestNew_DoesNotTouchGlobals(t *testing.T) {
	before := zap.L()
	_, err := New("info", zap.String("service", "metriq"))
	require.NoError(t, err)
	assert.Same(t, before, zap.L())
}

func TestNewFromConfig(t *testing.T) {
	log, err := NewFromConfig(config.Config{
		AppName:     "metriq",
		AppVersion:  "0.1.0",
		Environment: "test",
		Logger:      config.LoggerConfig{Level: "warn"},
	})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}
