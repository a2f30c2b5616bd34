// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "live_stabilizer.env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
# live session
RETENTION_SECONDS=5
LIVE_WINDOW_MS=800
FRAME_POLICY=Skip
FALLBACK_OK=false
INGEST_SOURCE=serial
IMU_SERIAL_PORT=/dev/ttyUSB0
TOPIC_ORIENTATION="rig/orientation"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.RetentionSeconds)
	assert.Equal(t, 800, cfg.LiveWindowMS)
	assert.Equal(t, "skip", cfg.FramePolicy)
	assert.False(t, cfg.FallbackOK)
	assert.Equal(t, "serial", cfg.IngestSource)
	assert.Equal(t, "/dev/ttyUSB0", cfg.IMUSerialPort)
	assert.Equal(t, "rig/orientation", cfg.TopicOrientation)
	// untouched keys keep defaults
	assert.Equal(t, 2048, cfg.SampleQueueCapacity)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "WEB_SERVER_PORT=9000\n")
	t.Setenv("WEB_SERVER_PORT", "9100")
	t.Setenv("CENTER_RATIO", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.WebServerPort)
	assert.Equal(t, 0.25, cfg.CenterRatio)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "NOPE=1\n", "unknown config key"},
		{"bad int", "LIVE_WINDOW_MS=abc\n", "invalid LIVE_WINDOW_MS"},
		{"bad bool", "FALLBACK_OK=maybe\n", "invalid FALLBACK_OK"},
		{"bad policy", "FRAME_POLICY=blend\n", "FRAME_POLICY"},
		{"bad stream", "RENDER_STREAM=both\n", "RENDER_STREAM"},
		{"bad source", "INGEST_SOURCE=carrier-pigeon\n", "INGEST_SOURCE"},
		{"serial without port", "INGEST_SOURCE=serial\n", "IMU_SERIAL_PORT"},
		{"zero retention", "RETENTION_SECONDS=0\n", "RETENTION_SECONDS"},
		{"nan retention", "RETENTION_SECONDS=NaN\n", "invalid RETENTION_SECONDS"},
		{"infinite fps", "VIDEO_FPS=+Inf\n", "invalid VIDEO_FPS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.Error(t, err)
}

func TestLoad_ShippedExampleMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "live_stabilizer.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
