package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZap_Levels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZap(zap.New(core))
	ctx := context.Background()

	l.Debug(ctx, "page read", "count", 3)
	l.Info(ctx, "events appended", "stream_key", "system:1")
	l.Warn(ctx, "projection cache read failed", "stream_key", "system:2")
	l.Error(ctx, "append conflict", "attempt", 2)

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, "page read", entries[0].Message)
	assert.Equal(t, zap.WarnLevel, entries[2].Level)
	assert.Equal(t, "system:1", entries[1].ContextMap()["stream_key"])
	assert.Equal(t, int64(2), entries[3].ContextMap()["attempt"])
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"default format", "debug", "", false},
		{"console", "WARN", "console", false},
		{"bad level", "loud", "json", true},
		{"bad format", "info", "xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}
