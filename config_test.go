package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, "server:\n  listen: \":8080\"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "sim", cfg.Board.Driver)
	assert.Equal(t, 250, cfg.Board.SampleRate)
	assert.Equal(t, 1000, cfg.Board.PollIntervalMs)
	assert.Equal(t, 5000, cfg.Board.CalibrationDurationMs)
	assert.Equal(t, 1000.0, cfg.Board.RefNormalizeThreshold)
	assert.Equal(t, 3.0, cfg.Filter.Lowcut)
	assert.Equal(t, 45.0, cfg.Filter.Highcut)
	assert.Equal(t, 2, cfg.Filter.Order)
	assert.Equal(t, 8, cfg.Channels.Enabled)
	assert.Equal(t, "/metrics", cfg.Prometheus.Path)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "lowcut above highcut",
			yaml: "filter:\n  lowcut: 50.0\n  highcut: 45.0\n",
		},
		{
			name: "too many channels",
			yaml: "channels:\n  enabled: 9\n",
		},
		{
			name: "negative ref threshold",
			yaml: "board:\n  ref_normalize_threshold: -1.0\n",
		},
		{
			name: "mqtt enabled without broker",
			yaml: "mqtt:\n  enabled: true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultSettings(t *testing.T) {
	path := writeConfigFile(t, "filter:\n  bandpass_enabled: true\nchannels:\n  enabled: 4\n  ref_enabled: true\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	settings := cfg.DefaultSettings()
	assert.True(t, settings.BandpassEnabled)
	assert.True(t, settings.RefEnabled)
	assert.False(t, settings.BiasoutEnabled)
	assert.Equal(t, 4, settings.EnabledChannels)
	assert.Equal(t, 3.0, settings.Lowcut)
}
