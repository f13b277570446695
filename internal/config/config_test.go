package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8085", cfg.GetServerAddr())
	assert.Equal(t, 1, cfg.Serial.ChunkSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Serial.PacingDelay)
	assert.Equal(t, "\n\r", cfg.Serial.LineTerminator)
	assert.Equal(t, 65536, cfg.Serial.HighWaterMark)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, "utf8", cfg.Serial.Encoding)
	assert.Equal(t, time.Second, cfg.Spy.ReportInterval)
	assert.Equal(t, SettingsBackendFile, cfg.Settings.Backend)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.IsDebugEnabled())
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
serial:
  chunk_size: 16
  pacing_delay: 10ms
spy:
  report_interval: 250ms
app:
  environment: production
`)
	t.Setenv("SERIAL_MUX_SERIAL_BAUD_RATE", "115200")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.GetServerAddr())
	assert.Equal(t, 16, cfg.Serial.ChunkSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Serial.PacingDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Spy.ReportInterval)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDebugEnabled())
}

func TestLoadFileValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero chunk size", "serial:\n  chunk_size: 0\n"},
		{"negative pacing", "serial:\n  pacing_delay: -1ms\n"},
		{"unknown backend", "settings:\n  backend: redis\n"},
		{"empty settings file", "settings:\n  file: \"\"\n"},
		{"unknown environment", "app:\n  environment: moon\n"},
		{"unknown log level", "logging:\n  level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "mux", Password: "secret", DBName: "serial_mux", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=mux password=secret dbname=serial_mux sslmode=disable", db.DSN())
}
