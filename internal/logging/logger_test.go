package logging

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "json info", level: "info", format: "json"},
		{name: "console debug", level: "debug", format: "console"},
		{name: "warn", level: "warn", format: "json"},
		{name: "error", level: "error", format: "json"},
		{name: "bad level", level: "verbose", format: "json", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)

			lvl, perr := zapcore.ParseLevel(tt.level)
			require.NoError(t, perr)
			assert.True(t, logger.Core().Enabled(lvl))
			if lvl > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(lvl-1))
			}
		})
	}
}

func TestIsStdoutSyncError(t *testing.T) {
	assert.True(t, isStdoutSyncError(syscall.EINVAL))
	assert.True(t, isStdoutSyncError(syscall.ENOTTY))
	assert.False(t, isStdoutSyncError(syscall.EACCES))
	assert.False(t, isStdoutSyncError(assert.AnError))
}

func TestSyncSwallowsStdoutErrors(t *testing.T) {
	logger, err := New("info", "json")
	require.NoError(t, err)
	logger.Info("sync probe")
	assert.NoError(t, Sync(logger))
}
