package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

// Level maps the configured log_level onto a slog level, defaulting to info.
func (t TelemetryConfig) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(t.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Stream      StreamConfig      `yaml:"stream"`
	Transcribe  TranscribeConfig  `yaml:"transcribe"`
	Translate   TranslateConfig   `yaml:"translate"`
	Quota       QuotaConfig       `yaml:"quota"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type TranscriptsConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type StreamConfig struct {
	MaxChunkBytes     int `yaml:"max_chunk_bytes"`
	InterimIntervalMS int `yaml:"interim_interval_ms"`
}

type TranscribeConfig struct {
	SampleRate int                `yaml:"sample_rate"`
	Channels   int                `yaml:"channels"`
	Streaming  StreamingSTTConfig `yaml:"streaming"`
	Batch      BatchSTTConfig     `yaml:"batch"`
}

type StreamingSTTConfig struct {
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type BatchSTTConfig struct {
	Mode      string `yaml:"mode"` // mock, openai, exec
	WindowMS  int    `yaml:"window_ms"`
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
}

type TranslateConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // mock, openai
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type QuotaConfig struct {
	Enabled        bool            `yaml:"enabled"`
	LedgerPath     string          `yaml:"ledger_path"`
	PollIntervalMS int             `yaml:"poll_interval_ms"`
	ProbeMinutes   float64         `yaml:"probe_minutes"`
	Tiers          map[string]Tier `yaml:"tiers"`
	DefaultTier    string          `yaml:"default_tier"`
}

type Tier struct {
	MonthlyMinutes   float64 `yaml:"monthly_minutes"`
	PremiumStreaming bool    `yaml:"premium_streaming"`
}

func Default() Config {
	return Config{
		RuntimeName: "streamscribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Transcripts: TranscriptsConfig{
			Path:          "./data/transcripts.db",
			RetentionDays: 90,
		},
		Stream: StreamConfig{
			MaxChunkBytes:     64 * 1024,
			InterimIntervalMS: 300,
		},
		Transcribe: TranscribeConfig{
			SampleRate: 16000,
			Channels:   1,
			Streaming: StreamingSTTConfig{
				Model: "general",
			},
			Batch: BatchSTTConfig{
				Mode:     "mock",
				WindowMS: 1000,
				Model:    "whisper-1",
			},
		},
		Translate: TranslateConfig{
			Enabled: true,
			Mode:    "mock",
			Model:   "gpt-4o-mini",
		},
		Quota: QuotaConfig{
			Enabled:        true,
			LedgerPath:     "./data/usage.db",
			PollIntervalMS: 10000,
			ProbeMinutes:   0.1,
			DefaultTier:    "free",
			Tiers: map[string]Tier{
				"free":    {MonthlyMinutes: 30},
				"pro":     {MonthlyMinutes: 600, PremiumStreaming: true},
				"premium": {MonthlyMinutes: 3000, PremiumStreaming: true},
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SCRIBE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Transcripts.Path, "SCRIBE_TRANSCRIPTS_PATH")
	overrideInt(&cfg.Transcripts.RetentionDays, "SCRIBE_TRANSCRIPTS_RETENTION_DAYS")
	overrideBool(&cfg.Transcripts.VacuumOnStart, "SCRIBE_TRANSCRIPTS_VACUUM_ON_START")
	overrideInt(&cfg.Stream.MaxChunkBytes, "SCRIBE_STREAM_MAX_CHUNK_BYTES")
	overrideInt(&cfg.Stream.InterimIntervalMS, "SCRIBE_STREAM_INTERIM_INTERVAL_MS")
	overrideInt(&cfg.Transcribe.SampleRate, "SCRIBE_TRANSCRIBE_SAMPLE_RATE")
	overrideInt(&cfg.Transcribe.Channels, "SCRIBE_TRANSCRIBE_CHANNELS")
	overrideString(&cfg.Transcribe.Streaming.URL, "SCRIBE_TRANSCRIBE_STREAMING_URL")
	overrideString(&cfg.Transcribe.Streaming.APIKey, "SCRIBE_TRANSCRIBE_STREAMING_API_KEY")
	overrideString(&cfg.Transcribe.Streaming.Model, "SCRIBE_TRANSCRIBE_STREAMING_MODEL")
	overrideString(&cfg.Transcribe.Streaming.Language, "SCRIBE_TRANSCRIBE_STREAMING_LANGUAGE")
	overrideString(&cfg.Transcribe.Batch.Mode, "SCRIBE_TRANSCRIBE_BATCH_MODE")
	overrideInt(&cfg.Transcribe.Batch.WindowMS, "SCRIBE_TRANSCRIBE_BATCH_WINDOW_MS")
	overrideString(&cfg.Transcribe.Batch.Command, "SCRIBE_TRANSCRIBE_BATCH_COMMAND")
	overrideString(&cfg.Transcribe.Batch.ModelPath, "SCRIBE_TRANSCRIBE_BATCH_MODEL_PATH")
	overrideString(&cfg.Transcribe.Batch.Model, "SCRIBE_TRANSCRIBE_BATCH_MODEL")
	overrideString(&cfg.Transcribe.Batch.APIKey, "SCRIBE_TRANSCRIBE_BATCH_API_KEY")
	overrideString(&cfg.Transcribe.Batch.BaseURL, "SCRIBE_TRANSCRIBE_BATCH_BASE_URL")
	overrideBool(&cfg.Translate.Enabled, "SCRIBE_TRANSLATE_ENABLED")
	overrideString(&cfg.Translate.Mode, "SCRIBE_TRANSLATE_MODE")
	overrideString(&cfg.Translate.APIKey, "SCRIBE_TRANSLATE_API_KEY")
	overrideString(&cfg.Translate.BaseURL, "SCRIBE_TRANSLATE_BASE_URL")
	overrideString(&cfg.Translate.Model, "SCRIBE_TRANSLATE_MODEL")
	overrideBool(&cfg.Quota.Enabled, "SCRIBE_QUOTA_ENABLED")
	overrideString(&cfg.Quota.LedgerPath, "SCRIBE_QUOTA_LEDGER_PATH")
	overrideInt(&cfg.Quota.PollIntervalMS, "SCRIBE_QUOTA_POLL_INTERVAL_MS")
	overrideFloat(&cfg.Quota.ProbeMinutes, "SCRIBE_QUOTA_PROBE_MINUTES")
	overrideString(&cfg.Quota.DefaultTier, "SCRIBE_QUOTA_DEFAULT_TIER")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Transcripts.Path == "" {
		return errors.New("transcripts.path must not be empty")
	}
	if cfg.Transcripts.RetentionDays < 0 {
		return errors.New("transcripts.retention_days must be >= 0")
	}
	if cfg.Stream.MaxChunkBytes <= 0 {
		return errors.New("stream.max_chunk_bytes must be positive")
	}
	if cfg.Stream.InterimIntervalMS < 0 {
		return errors.New("stream.interim_interval_ms must be >= 0")
	}
	if cfg.Transcribe.SampleRate <= 0 {
		return errors.New("transcribe.sample_rate must be positive")
	}
	if cfg.Transcribe.Channels <= 0 {
		return errors.New("transcribe.channels must be positive")
	}
	switch cfg.Transcribe.Batch.Mode {
	case "mock", "openai", "exec":
	default:
		return errors.New("transcribe.batch.mode must be one of mock|openai|exec")
	}
	if cfg.Transcribe.Batch.Mode == "exec" && cfg.Transcribe.Batch.Command == "" {
		return errors.New("transcribe.batch.command must be set when mode=exec")
	}
	if cfg.Transcribe.Batch.Mode == "openai" && cfg.Transcribe.Batch.APIKey == "" {
		return errors.New("transcribe.batch.api_key must be set when mode=openai")
	}
	if cfg.Transcribe.Batch.WindowMS <= 0 {
		return errors.New("transcribe.batch.window_ms must be positive")
	}
	if cfg.Translate.Enabled {
		switch cfg.Translate.Mode {
		case "mock", "openai":
		default:
			return errors.New("translate.mode must be one of mock|openai")
		}
		if cfg.Translate.Mode == "openai" && cfg.Translate.APIKey == "" {
			return errors.New("translate.api_key must be set when mode=openai")
		}
	}
	if cfg.Quota.Enabled {
		if cfg.Quota.LedgerPath == "" {
			return errors.New("quota.ledger_path must not be empty when quota is enabled")
		}
		if cfg.Quota.PollIntervalMS <= 0 {
			return errors.New("quota.poll_interval_ms must be positive")
		}
		if cfg.Quota.ProbeMinutes <= 0 {
			return errors.New("quota.probe_minutes must be positive")
		}
		if len(cfg.Quota.Tiers) == 0 {
			return errors.New("quota.tiers must not be empty when quota is enabled")
		}
		if _, ok := cfg.Quota.Tiers[cfg.Quota.DefaultTier]; !ok {
			return errors.New("quota.default_tier must name a configured tier")
		}
	}
	return nil
}
