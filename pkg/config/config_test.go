package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "org.bluez", cfg.Destination)
	assert.Equal(t, "/org/bluez/hci0", cfg.AdapterPath)
	assert.Equal(t, 5*time.Second, cfg.ScanDuration)
	assert.Equal(t, 5, cfg.ConnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ConnectBackoff)
	assert.Equal(t, 64, cfg.SignalBuffer)
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
adapter_path: /org/bluez/hci1
scan_duration: 10s
connect_backoff: 2s
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/org/bluez/hci1", cfg.AdapterPath)
	assert.Equal(t, 10*time.Second, cfg.ScanDuration)
	assert.Equal(t, 2*time.Second, cfg.ConnectBackoff)
	assert.Equal(t, "org.bluez", cfg.Destination, "unset keys keep defaults")
	assert.Equal(t, 5, cfg.ConnectAttempts)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{name: "bad yaml", yaml: "log_level: [", msg: "failed to parse config"},
		{name: "bad level", yaml: "log_level: loud", msg: "invalid log_level"},
		{name: "bad format", yaml: "log_format: xml", msg: "invalid log_format"},
		{name: "empty destination", yaml: "destination: ''", msg: "destination"},
		{name: "relative adapter", yaml: "adapter_path: hci0", msg: "invalid adapter_path"},
		{name: "negative scan", yaml: "scan_duration: -1s", msg: "scan_duration"},
		{name: "no attempts", yaml: "connect_attempts: 0", msg: "connect_attempts"},
		{name: "negative backoff", yaml: "connect_backoff: -1s", msg: "connect_backoff"},
		{name: "no buffer", yaml: "signal_buffer: 0", msg: "signal_buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blez.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect_attempts: 3\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.ConnectAttempts)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		format   string
		want     logrus.Level
		wantJSON bool
	}{
		{name: "debug text", level: "debug", format: "text", want: logrus.DebugLevel},
		{name: "warn json", level: "warn", format: "json", want: logrus.WarnLevel, wantJSON: true},
		{name: "invalid level falls back to info", level: "loud", format: "text", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level, LogFormat: tt.format}
			logger := cfg.NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			if tt.wantJSON {
				_, ok := logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok)
				return
			}
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
