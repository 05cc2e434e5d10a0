package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flashsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 16000, cfg.Sync.ChunkSize)
	assert.Equal(t, 64*1024, cfg.Sync.MaxBuffered)
	assert.Equal(t, 5*time.Millisecond, cfg.Sync.PollInterval)
	assert.Equal(t, 30, cfg.QR.Chunks)
	assert.Equal(t, 50*time.Millisecond, cfg.QR.Interval)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
db: from-file.db
listen: 0.0.0.0:9000
log:
  level: debug
qr:
  chunks: 12
  interval: 80ms
sources:
  - ./notes
  - https://github.com/a/deck.git
`)
	t.Setenv("FLASHSYNC_LISTEN", "0.0.0.0:9100")
	t.Setenv("FLASHSYNC_SYNC__CHUNK_SIZE", "4000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("db", "flag-default.db", "")
	flags.String("fallback-dir", "", "")
	require.NoError(t, flags.Parse([]string{"--fallback-dir", "/tmp/fallback"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-file.db", cfg.DB, "unset flag keeps the file value")
	assert.Equal(t, "/tmp/fallback", cfg.FallbackDir)
	assert.Equal(t, "0.0.0.0:9100", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 4000, cfg.Sync.ChunkSize)
	assert.Equal(t, 12, cfg.QR.Chunks)
	assert.Equal(t, 80*time.Millisecond, cfg.QR.Interval)
	assert.Equal(t, []string{"./notes", "https://github.com/a/deck.git"}, cfg.Sources)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad level", "log:\n  level: loud\n", "Level"},
		{"zero chunks", "qr:\n  chunks: 0\n", "Chunks"},
		{"negative chunk size", "sync:\n  chunk_size: -1\n", "ChunkSize"},
		{"bad listen", "listen: nowhere\n", "Listen"},
		{"bad public url", "public_url: not a url\n", "PublicURL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(writeConfig(t, "db: [unclosed\n"), nil)
	assert.Error(t, err)
}

func TestBaseURL(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://127.0.0.1:8080", cfg.BaseURL())
	cfg.PublicURL = "https://laptop.local:8443"
	assert.Equal(t, "https://laptop.local:8443", cfg.BaseURL())
}

func TestOptions(t *testing.T) {
	cfg := Default()
	so := cfg.SyncOptions(nil)
	assert.Equal(t, cfg.Sync.ChunkSize, so.ChunkSize)
	assert.Equal(t, cfg.Sync.PollInterval, so.PollInterval)

	qo := cfg.SignalOptions(nil)
	assert.Equal(t, cfg.QR.Chunks, qo.Chunks)
	assert.Equal(t, cfg.QR.Interval, qo.Interval)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("shown", "k", 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])

	buf.Reset()
	LogConfig{Level: "info", Format: "text"}.NewLogger(&buf).Info("hello", "cards", 3)
	assert.True(t, strings.Contains(buf.String(), "hello"))
	assert.Contains(t, buf.String(), "cards=3")
}
