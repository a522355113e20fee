package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  zerolog.Level
	}{
		{DebugLevel, zerolog.DebugLevel},
		{InfoLevel, zerolog.InfoLevel},
		{WarnLevel, zerolog.WarnLevel},
		{ErrorLevel, zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.level))
		})
	}
}

func TestInitJSON(t *testing.T) {
	prev, prevLevel := Logger, zerolog.GlobalLevel()
	defer func() {
		Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	oracleLog := WithComponent("oracle")
	oracleLog.Info().Msg("dropped")
	runLog := WithRunID("run-1")
	runLog.Warn().Str("state", "failed").Msg("Failover drill finished")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "failed", entry["state"])
	assert.Equal(t, "Failover drill finished", entry["message"])
}
