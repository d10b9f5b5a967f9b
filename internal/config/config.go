// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads firewatch configuration with the precedence
// environment > YAML file > defaults, validates it, and supports hot reload.
package config

import "time"

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Upload    UploadConfig    `yaml:"upload"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Inference InferenceConfig `yaml:"inference"`
	Frame     FrameConfig     `yaml:"frame"`
	Alert     AlertConfig     `yaml:"alert"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Results   ResultsConfig   `yaml:"results"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listen"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
	MaxConnections    int           `yaml:"max_connections"`
	TLS               TLSConfig     `yaml:"tls"`
}

// TLSConfig switches the API listener to HTTPS. With AutoGenerate a
// self-signed pair is created at CertFile/KeyFile when missing.
type TLSConfig struct {
	Enabled      bool     `yaml:"enabled"`
	CertFile     string   `yaml:"cert_file"`
	KeyFile      string   `yaml:"key_file"`
	AutoGenerate bool     `yaml:"auto_generate"`
	Hosts        []string `yaml:"hosts"`
}

// MetricsConfig controls the separate Prometheus listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen"`
}

// UploadConfig controls where uploads and intermediate artifacts live.
type UploadConfig struct {
	Dir           string `yaml:"dir"`
	MaxVideoBytes int64  `yaml:"max_video_bytes"`
	MaxFrameBytes int64  `yaml:"max_frame_bytes"`
}

// PipelineConfig bounds concurrent heavy work.
type PipelineConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// TranscodeConfig configures the ffmpeg normalisation step.
type TranscodeConfig struct {
	Bin         string        `yaml:"bin"`
	Timeout     time.Duration `yaml:"timeout"`
	KillGrace   time.Duration `yaml:"kill_grace"`
	VideoCodec  string        `yaml:"video_codec"`
	Preset      string        `yaml:"preset"`
	CRF         int           `yaml:"crf"`
	PixelFormat string        `yaml:"pixel_format"`
	AudioCodec  string        `yaml:"audio_codec"`
	Container   string        `yaml:"container"`
	ExtraArgs   []string      `yaml:"extra_args"`

	// ffmpeg progress watchdog; both zero disables it.
	StartTimeout time.Duration `yaml:"start_timeout"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// InferenceConfig configures the external detector command.
type InferenceConfig struct {
	Command           string        `yaml:"command"`
	Args              []string      `yaml:"args"`
	Env               []string      `yaml:"env"`
	WorkDir           string        `yaml:"work_dir"`
	EvidencePath      string        `yaml:"evidence_path"`
	OutputExt         string        `yaml:"output_ext"`
	PositiveTokens    []string      `yaml:"positive_tokens"`
	NegativeTokens    []string      `yaml:"negative_tokens"`
	NegativeExitCodes []int         `yaml:"negative_exit_codes"`
	Timeout           time.Duration `yaml:"timeout"`
	KillGrace         time.Duration `yaml:"kill_grace"`
}

// FrameConfig controls still-frame normalisation.
type FrameConfig struct {
	MaxDimension int `yaml:"max_dimension"`
	JPEGQuality  int `yaml:"jpeg_quality"`
}

// AlertConfig controls alert rendering and dispatch policy.
type AlertConfig struct {
	Transport        string        `yaml:"transport"` // auto, smtp, log
	From             string        `yaml:"from"`
	FromName         string        `yaml:"from_name"`
	Recipients       []string      `yaml:"recipients"`
	SubjectTemplate  string        `yaml:"subject_template"`
	BodyTemplate     string        `yaml:"body_template"`
	Timeout          time.Duration `yaml:"timeout"`
	MinInterval      time.Duration `yaml:"min_interval"`
	Burst            int           `yaml:"burst"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// SMTPConfig holds mail server credentials.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TLSPolicy   string `yaml:"tls_policy"` // mandatory, opportunistic, none
	ImplicitTLS bool   `yaml:"implicit_tls"`
}

// ResultsConfig enables publication of evidence images.
type ResultsConfig struct {
	Dir          string `yaml:"dir"`
	PublicPrefix string `yaml:"public_prefix"`
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig bounds ingress per client IP.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc, http
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

const (
	DefaultSubjectTemplate = "[URGENT] CCTV {{.Source}} wildfire alert"
	DefaultBodyTemplate    = "The AI system detected a wildfire on CCTV {{.Source}} at {{.DetectedAt.Format \"2006-01-02 15:04:05 MST\"}}.\n" +
		"Please check the attached image.\n\nRequest: {{.RequestID}}\n"
)

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:        ":5000",
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Minute,
			WriteTimeout:      20 * time.Minute,
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   30 * time.Second,
			MaxHeaderBytes:    1 << 20,
			MaxConnections:    256,
		},
		Metrics: MetricsConfig{Enabled: true, ListenAddr: ":9090"},
		Upload: UploadConfig{
			Dir:           "upload",
			MaxVideoBytes: 512 << 20,
			MaxFrameBytes: 20 << 20,
		},
		Pipeline: PipelineConfig{MaxConcurrent: 4},
		Transcode: TranscodeConfig{
			Bin:         "ffmpeg",
			Timeout:     5 * time.Minute,
			KillGrace:   5 * time.Second,
			VideoCodec:  "libx264",
			Preset:      "veryfast",
			CRF:         23,
			PixelFormat: "yuv420p",
			AudioCodec:  "aac",
			Container:   ".mp4",

			StartTimeout: 30 * time.Second,
			StallTimeout: 60 * time.Second,
		},
		Inference: InferenceConfig{
			Command:        "python3",
			Args:           []string{"aiModel/detectVideo.py", "{input}", "{output}"},
			EvidencePath:   "{evidence}",
			OutputExt:      ".mp4",
			PositiveTokens: []string{"FIRE_DETECTED", "화재 감지 완료"},
			NegativeTokens: []string{"NO_FIRE", "화재 감지되지 않음"},
			Timeout:        10 * time.Minute,
			KillGrace:      5 * time.Second,

			// detectVideo.py exits 1 when it saw no fire.
			NegativeExitCodes: []int{1},
		},
		Frame: FrameConfig{MaxDimension: 1920, JPEGQuality: 85},
		Alert: AlertConfig{
			Transport:        "auto",
			FromName:         "AI Wildfire Detection System",
			SubjectTemplate:  DefaultSubjectTemplate,
			BodyTemplate:     DefaultBodyTemplate,
			Timeout:          30 * time.Second,
			Burst:            1,
			BreakerThreshold: 5,
			BreakerReset:     time.Minute,
		},
		SMTP: SMTPConfig{
			Host:      "smtp.gmail.com",
			Port:      587,
			TLSPolicy: "mandatory",
		},
		Results: ResultsConfig{PublicPrefix: "/results/"},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5000", "https://cafsm.shop"},
		},
		RateLimit: RateLimitConfig{Enabled: true, Requests: 60, Window: time.Minute},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Environment:  "production",
			SamplingRate: 1.0,
		},
	}
}
