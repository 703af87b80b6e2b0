package logging

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "rulerd.log")

	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "console only, default level",
			cfg:  Config{LoggerName: "rulerd", Console: OutputConfig{Level: "INFO"}},
		},
		{
			name: "console debug",
			cfg:  Config{LoggerName: "rulerd", Console: OutputConfig{Level: "DEBUG"}},
		},
		{
			name: "structured console",
			cfg:  Config{LoggerName: "rulerd", Console: OutputConfig{Level: "INFO", Structured: true}},
		},
		{
			name: "console and file",
			cfg: Config{
				LoggerName: "rulerd",
				Console:    OutputConfig{Level: "WARN"},
				File:       FileOutputConfig{Enabled: true, Path: tmpFile, Level: "DEBUG"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := Configure(tt.cfg)
			require.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"DEBUG", "DEBUG"},
		{"debug", "DEBUG"},
		{"INFO", "INFO"},
		{"info", "INFO"},
		{"WARN", "WARN"},
		{"WARNING", "WARN"},
		{"ERROR", "ERROR"},
		{"invalid", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input).String())
		})
	}
}

func TestFanoutHandlerRespectsPerHandlerLevel(t *testing.T) {
	cfg := Config{
		LoggerName: "rulerd",
		Console:    OutputConfig{Level: "ERROR"},
		File:       FileOutputConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "f.log"), Level: "DEBUG"},
	}
	logger := Configure(cfg)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug),
		"file handler should keep DEBUG enabled even though console is ERROR-only")
}
