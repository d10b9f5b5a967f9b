// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "firewatch.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	want := Default()
	want.Version = "v1.2.3"
	abs, _ := filepath.Abs(want.Upload.Dir)
	want.Upload.Dir = abs
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	uploadDir := t.TempDir()
	p := writeConfig(t, `
log_level: debug
server:
  listen: ":8080"
upload:
  dir: `+uploadDir+`
transcode:
  timeout: 90s
inference:
  command: /opt/detector/run
  args: ["--in", "{input}", "--out", "{output}"]
  negative_exit_codes: [3, 4]
alert:
  recipients: ["ops@example.com"]
`)
	cfg, err := NewLoader(p, "dev").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, uploadDir, cfg.Upload.Dir)
	assert.Equal(t, 90*time.Second, cfg.Transcode.Timeout)
	assert.Equal(t, "/opt/detector/run", cfg.Inference.Command)
	assert.Equal(t, []int{3, 4}, cfg.Inference.NegativeExitCodes)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Alert.Recipients)
	// untouched keys keep defaults
	assert.Equal(t, "ffmpeg", cfg.Transcode.Bin)
	assert.Equal(t, 85, cfg.Frame.JPEGQuality)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	p := writeConfig(t, "server:\n  listen: \":8080\"\n")
	t.Setenv("PORT", "7000")
	t.Setenv("ALERT_EMAIL", "alerts@example.com")
	t.Setenv("ALERT_EMAIL_PASS", "app-password")
	t.Setenv("RECEIVER_EMAIL", "a@example.com,b@example.com")

	cfg, err := NewLoader(p, "dev").Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.ListenAddr)
	assert.Equal(t, "alerts@example.com", cfg.Alert.From)
	assert.Equal(t, "alerts@example.com", cfg.SMTP.Username)
	assert.Equal(t, "app-password", cfg.SMTP.Password)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Alert.Recipients)
	assert.True(t, cfg.SMTPConfigured())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	p := writeConfig(t, "server:\n  listen: \":1\"\n  lisen: typo\n")
	_, err := NewLoader(p, "dev").Load()
	require.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	p := writeConfig(t, "log_level: info\n---\nlog_level: debug\n")
	_, err := NewLoader(p, "dev").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoadEmptyFile(t *testing.T) {
	p := writeConfig(t, "")
	_, err := NewLoader(p, "dev").Load()
	require.NoError(t, err)
}

func TestLoadRejectsNonYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "firewatch.json")
	require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
	_, err := NewLoader(p, "dev").Load()
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("FW_DOTENV_A=file\nFW_DOTENV_B=file\n"), 0o600))
	t.Setenv("FW_DOTENV_A", "process")
	t.Cleanup(func() { _ = os.Unsetenv("FW_DOTENV_B") })

	require.NoError(t, LoadDotEnv(p, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "process", os.Getenv("FW_DOTENV_A"))
	assert.Equal(t, "file", os.Getenv("FW_DOTENV_B"))
}
