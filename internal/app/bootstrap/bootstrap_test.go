// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/firewatch/internal/api/middleware"
	"github.com/ManuGH/firewatch/internal/config"
)

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	self, err := os.Executable()
	require.NoError(t, err)

	content := `
log_level: warn
server:
  listen: "127.0.0.1:0"
metrics:
  enabled: false
upload:
  dir: ` + filepath.Join(dir, "upload") + `
results:
  dir: ` + filepath.Join(dir, "results") + `
transcode:
  bin: ` + self + `
inference:
  command: ` + self + `
alert:
  transport: log
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, dir
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		for y := 0; y < 24; y++ {
			img.Set(x, y, color.RGBA{R: 220, G: uint8(x * 4), B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestWireServicesBootsStack(t *testing.T) {
	path, dir := writeTestConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := WireServices(ctx, "test", path)
	require.NoError(t, err)
	require.NotNil(t, c.Server)
	require.NotNil(t, c.App)
	assert.Equal(t, filepath.Join(dir, "upload"), c.Config.Upload.Dir)

	handler := c.Server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A frame upload runs the real frame stage and log transport end to end.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("cctvId", "cam-7"))
	fw, err := mw.CreateFormFile("frame", "snapshot.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/frames", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success    bool   `json:"success"`
		ResultPath string `json:"resultPath"`
		Alert      struct {
			Status    string `json:"status"`
			Transport string `json:"transport"`
		} `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "log", resp.Alert.Transport)
	assert.NotEmpty(t, resp.ResultPath)

	entries, err := os.ReadDir(filepath.Join(dir, "upload"))
	require.NoError(t, err)
	assert.Empty(t, entries, "run artifacts must be released")

	// Drain refuses new uploads.
	require.NoError(t, c.drainPipeline(ctx))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "readiness only flips once the manager drains")
	c.Health.SetDraining(true)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestApplySwapsDispatcher(t *testing.T) {
	path, _ := writeTestConfig(t)
	c, err := WireServices(context.Background(), "test", path)
	require.NoError(t, err)
	assert.Equal(t, "log", c.dispatcher.Load().TransportName())

	next := c.Config
	next.Alert.Transport = "smtp"
	next.Alert.From = "alerts@example.com"
	next.Alert.Recipients = []string{"ops@example.com"}
	next.SMTP.Host = "smtp.example.com"
	require.NoError(t, c.Apply(next))
	assert.Equal(t, "smtp", c.dispatcher.Load().TransportName())

	broken := next
	broken.Alert.SubjectTemplate = "{{.Source"
	require.Error(t, c.Apply(broken))
	assert.Equal(t, "smtp", c.dispatcher.Load().TransportName(), "failed apply keeps the previous stages")
}

func TestApplyKeepsDispatcherForUnrelatedChanges(t *testing.T) {
	path, _ := writeTestConfig(t)
	c, err := WireServices(context.Background(), "test", path)
	require.NoError(t, err)
	first := c.dispatcher.Load()

	next := c.Config
	next.LogLevel = "debug"
	next.Transcode.CRF = 28
	require.NoError(t, c.Apply(next))
	assert.Same(t, first, c.dispatcher.Load(), "breaker and limiter state survive a reload that leaves alerting alone")

	next.Alert.Timeout = 2 * next.Alert.Timeout
	require.NoError(t, c.Apply(next))
	assert.NotSame(t, first, c.dispatcher.Load())
}

func TestBuildTransport(t *testing.T) {
	withSMTP := func(cfg config.AppConfig) config.AppConfig {
		cfg.SMTP.Host = "smtp.example.com"
		cfg.Alert.From = "alerts@example.com"
		cfg.Alert.Recipients = []string{"ops@example.com"}
		return cfg
	}

	tests := []struct {
		name string
		cfg  func() config.AppConfig
		want string
	}{
		{"auto without smtp", func() config.AppConfig { return config.Default() }, "log"},
		{"auto with smtp", func() config.AppConfig { return withSMTP(config.Default()) }, "smtp"},
		{"explicit log", func() config.AppConfig {
			cfg := withSMTP(config.Default())
			cfg.Alert.Transport = "log"
			return cfg
		}, "log"},
		{"explicit smtp", func() config.AppConfig {
			cfg := withSMTP(config.Default())
			cfg.Alert.Transport = "smtp"
			return cfg
		}, "smtp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := buildTransport(tt.cfg())
			require.NoError(t, err)
			assert.Equal(t, tt.want, transport.Name())
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()

	_, err := resolveConfigPath(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = resolveConfigPath(dir)
	assert.Error(t, err)

	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log_level: info\n"), 0o600))
	got, err := resolveConfigPath(file)
	require.NoError(t, err)
	assert.Equal(t, file, got)

	t.Setenv("FIREWATCH_CONFIG", file)
	got, err = resolveConfigPath("")
	require.NoError(t, err)
	assert.Equal(t, file, got)
}

func TestStackConfig(t *testing.T) {
	cfg := config.Default()
	cfg.CORS.AllowedOrigins = []string{"https://console.example.com"}
	cfg.Telemetry.Enabled = true

	stack := stackConfig(cfg)
	assert.True(t, stack.EnableCORS)
	assert.Equal(t, ServiceName, stack.TracingService)
	assert.True(t, stack.EnableSecurityHeaders)

	assert.Equal(t, "", redacted(config.AppConfig{SMTP: config.SMTPConfig{Password: "secret"}}).SMTP.Password)
}

func TestProvisionTLS(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.Nop()

	plain := config.ServerConfig{ListenAddr: ":5000"}
	got, err := provisionTLS(plain, logger)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	auto := config.ServerConfig{TLS: config.TLSConfig{
		Enabled:      true,
		AutoGenerate: true,
		CertFile:     filepath.Join(dir, "tls", "fw.crt"),
		KeyFile:      filepath.Join(dir, "tls", "fw.key"),
		Hosts:        []string{"firewatch.lan"},
	}}
	got, err = provisionTLS(auto, logger)
	require.NoError(t, err)
	assert.FileExists(t, got.TLS.CertFile)
	assert.FileExists(t, got.TLS.KeyFile)
}
