package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-feedcast/internal/feed"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Archive     ArchiveConfig    `yaml:"archive"`
	Triage      TriageConfig     `yaml:"triage"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Voice       feed.VoiceConfig `yaml:"voice"`
	Sink        SinkConfig       `yaml:"sink"`
	Feed        FeedConfig       `yaml:"feed"`
	Ingest      IngestConfig     `yaml:"ingest"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type ArchiveConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxItems      int    `yaml:"max_items"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TriageConfig struct {
	MinPostLength   int `yaml:"min_post_length"`
	MaxPostLength   int `yaml:"max_post_length"`
	SummaryMaxChars int `yaml:"summary_max_chars"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec, openai
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode           string `yaml:"mode"` // stream, exec, mock
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Command        string `yaml:"command"`
	SampleRate     int    `yaml:"sample_rate"`
	ChannelType    string `yaml:"channel_type"`
	Format         string `yaml:"format"`
	MaxChunkChars  int    `yaml:"max_chunk_chars"`
	HeaderBytes    int    `yaml:"header_bytes"`
	StallTimeoutMS int    `yaml:"stall_timeout_ms"`
	DialTimeoutMS  int    `yaml:"dial_timeout_ms"`
}

// Channels is the channel count matching ChannelType.
func (c TTSConfig) Channels() int {
	if strings.EqualFold(c.ChannelType, "STEREO") {
		return 2
	}
	return 1
}

type SinkConfig struct {
	Mode      string   `yaml:"mode"` // file, objectstore, s3
	Directory string   `yaml:"directory"`
	Bucket    string   `yaml:"bucket"`
	S3        S3Config `yaml:"s3"`
}

// S3Config addresses an S3 compatible bucket. Empty keys fall back to the default credential chain.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type RetryConfig struct {
	MaxRetries   int `yaml:"max_retries"`
	BackoffMS    int `yaml:"backoff_ms"`
	MaxBackoffMS int `yaml:"max_backoff_ms"`
}

type FeedConfig struct {
	Fanout            int         `yaml:"fanout"`
	SeenCapacity      int         `yaml:"seen_capacity"`
	HistoryMaxItems   int         `yaml:"history_max_items"`
	ContextPrefix     string      `yaml:"context_prefix"`
	JobTimeoutMS      int         `yaml:"job_timeout_ms"`
	DigestWindowHours int         `yaml:"digest_window_hours"`
	Retry             RetryConfig `yaml:"retry"`
}

type IngestConfig struct {
	Enabled    bool   `yaml:"enabled"`
	QueueGroup string `yaml:"queue_group"`
	MaxBatch   int    `yaml:"max_batch"`
}

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "llama3.2:latest"
)

func Default() Config {
	return Config{
		RuntimeName: "loqa-feedcast",
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
			Host:           "0.0.0.0",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			Path:          "./data/feedcast.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxItems:      10000,
		},
		Triage: TriageConfig{
			MinPostLength:   10,
			MaxPostLength:   1000,
			SummaryMaxChars: 150,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			MaxTokens:   100,
			Temperature: 0.3,
			TimeoutMS:   30000,
		},
		TTS: TTSConfig{
			Mode:           "mock",
			Endpoint:       "wss://api.murf.ai/v1/speech/stream-input",
			SampleRate:     44100,
			ChannelType:    "MONO",
			Format:         "WAV",
			MaxChunkChars:  3000,
			HeaderBytes:    44,
			StallTimeoutMS: 30000,
			DialTimeoutMS:  10000,
		},
		Voice: feed.DefaultVoice(),
		Sink: SinkConfig{
			Mode:      "file",
			Directory: "./temp_audio",
			Bucket:    "feedcast-audio",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Feed: FeedConfig{
			Fanout:            4,
			SeenCapacity:      100000,
			ContextPrefix:     "socialcast",
			JobTimeoutMS:      120000,
			DigestWindowHours: 24,
			Retry: RetryConfig{
				BackoffMS:    200,
				MaxBackoffMS: 2000,
			},
		},
		Ingest: IngestConfig{
			Enabled:    true,
			QueueGroup: "feedcast",
			MaxBatch:   500,
		},
	}
}

// Load reads the YAML file at path (optional), the dotenv file named by FEEDCAST_ENV_FILE
// (default .env, ignored when missing) and FEEDCAST_* environment overrides.
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

	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	applyModeDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyModeDefaults fills backend settings left empty for the selected llm mode. The openai
// backend keeps an empty endpoint and model, which select the public API and its default model.
func applyModeDefaults(cfg *Config) {
	if cfg.LLM.Mode == "ollama" {
		if cfg.LLM.Endpoint == "" {
			cfg.LLM.Endpoint = defaultOllamaEndpoint
		}
		if cfg.LLM.Model == "" {
			cfg.LLM.Model = defaultOllamaModel
		}
	}
}

func loadDotEnv() error {
	envFile := ".env"
	if value, ok := os.LookupEnv("FEEDCAST_ENV_FILE"); ok && strings.TrimSpace(value) != "" {
		envFile = value
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "FEEDCAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "FEEDCAST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "FEEDCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FEEDCAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FEEDCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FEEDCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FEEDCAST_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "FEEDCAST_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "FEEDCAST_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "FEEDCAST_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "FEEDCAST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "FEEDCAST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "FEEDCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FEEDCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FEEDCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FEEDCAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "FEEDCAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "FEEDCAST_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Archive.Enabled, "FEEDCAST_ARCHIVE_ENABLED")
	overrideString(&cfg.Archive.Path, "FEEDCAST_ARCHIVE_PATH")
	overrideString(&cfg.Archive.RetentionMode, "FEEDCAST_ARCHIVE_RETENTION_MODE")
	overrideInt(&cfg.Archive.RetentionDays, "FEEDCAST_ARCHIVE_RETENTION_DAYS")
	overrideInt(&cfg.Archive.MaxItems, "FEEDCAST_ARCHIVE_MAX_ITEMS")
	overrideBool(&cfg.Archive.VacuumOnStart, "FEEDCAST_ARCHIVE_VACUUM_ON_START")
	overrideInt(&cfg.Triage.MinPostLength, "FEEDCAST_TRIAGE_MIN_POST_LENGTH")
	overrideInt(&cfg.Triage.MaxPostLength, "FEEDCAST_TRIAGE_MAX_POST_LENGTH")
	overrideInt(&cfg.Triage.SummaryMaxChars, "FEEDCAST_TRIAGE_SUMMARY_MAX_CHARS")
	overrideString(&cfg.LLM.Mode, "FEEDCAST_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "FEEDCAST_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "FEEDCAST_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "FEEDCAST_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "FEEDCAST_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "FEEDCAST_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "FEEDCAST_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "FEEDCAST_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "FEEDCAST_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "FEEDCAST_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "FEEDCAST_TTS_API_KEY")
	overrideString(&cfg.TTS.Command, "FEEDCAST_TTS_COMMAND")
	overrideInt(&cfg.TTS.SampleRate, "FEEDCAST_TTS_SAMPLE_RATE")
	overrideString(&cfg.TTS.ChannelType, "FEEDCAST_TTS_CHANNEL_TYPE")
	overrideString(&cfg.TTS.Format, "FEEDCAST_TTS_FORMAT")
	overrideInt(&cfg.TTS.MaxChunkChars, "FEEDCAST_TTS_MAX_CHUNK_CHARS")
	overrideInt(&cfg.TTS.HeaderBytes, "FEEDCAST_TTS_HEADER_BYTES")
	overrideInt(&cfg.TTS.StallTimeoutMS, "FEEDCAST_TTS_STALL_TIMEOUT_MS")
	overrideInt(&cfg.TTS.DialTimeoutMS, "FEEDCAST_TTS_DIAL_TIMEOUT_MS")
	overrideString(&cfg.Voice.VoiceID, "FEEDCAST_VOICE_ID")
	overrideString(&cfg.Voice.Style, "FEEDCAST_VOICE_STYLE")
	overrideInt(&cfg.Voice.Rate, "FEEDCAST_VOICE_RATE")
	overrideInt(&cfg.Voice.Pitch, "FEEDCAST_VOICE_PITCH")
	overrideInt(&cfg.Voice.Variation, "FEEDCAST_VOICE_VARIATION")
	overrideString(&cfg.Sink.Mode, "FEEDCAST_SINK_MODE")
	overrideString(&cfg.Sink.Directory, "FEEDCAST_SINK_DIRECTORY")
	overrideString(&cfg.Sink.Bucket, "FEEDCAST_SINK_BUCKET")
	overrideString(&cfg.Sink.S3.Bucket, "FEEDCAST_SINK_S3_BUCKET")
	overrideString(&cfg.Sink.S3.Prefix, "FEEDCAST_SINK_S3_PREFIX")
	overrideString(&cfg.Sink.S3.Region, "FEEDCAST_SINK_S3_REGION")
	overrideString(&cfg.Sink.S3.Endpoint, "FEEDCAST_SINK_S3_ENDPOINT")
	overrideString(&cfg.Sink.S3.AccessKey, "FEEDCAST_SINK_S3_ACCESS_KEY")
	overrideString(&cfg.Sink.S3.SecretKey, "FEEDCAST_SINK_S3_SECRET_KEY")
	overrideInt(&cfg.Feed.Fanout, "FEEDCAST_FEED_FANOUT")
	overrideInt(&cfg.Feed.SeenCapacity, "FEEDCAST_FEED_SEEN_CAPACITY")
	overrideInt(&cfg.Feed.HistoryMaxItems, "FEEDCAST_FEED_HISTORY_MAX_ITEMS")
	overrideString(&cfg.Feed.ContextPrefix, "FEEDCAST_FEED_CONTEXT_PREFIX")
	overrideInt(&cfg.Feed.JobTimeoutMS, "FEEDCAST_FEED_JOB_TIMEOUT_MS")
	overrideInt(&cfg.Feed.DigestWindowHours, "FEEDCAST_FEED_DIGEST_WINDOW_HOURS")
	overrideInt(&cfg.Feed.Retry.MaxRetries, "FEEDCAST_FEED_RETRY_MAX_RETRIES")
	overrideInt(&cfg.Feed.Retry.BackoffMS, "FEEDCAST_FEED_RETRY_BACKOFF_MS")
	overrideInt(&cfg.Feed.Retry.MaxBackoffMS, "FEEDCAST_FEED_RETRY_MAX_BACKOFF_MS")
	overrideBool(&cfg.Ingest.Enabled, "FEEDCAST_INGEST_ENABLED")
	overrideString(&cfg.Ingest.QueueGroup, "FEEDCAST_INGEST_QUEUE_GROUP")
	overrideInt(&cfg.Ingest.MaxBatch, "FEEDCAST_INGEST_MAX_BATCH")
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Archive.Enabled {
		if cfg.Archive.Path == "" {
			return errors.New("archive.path must not be empty")
		}
		switch cfg.Archive.RetentionMode {
		case "ephemeral", "persistent":
		default:
			return errors.New("archive.retention_mode must be one of ephemeral|persistent")
		}
		if cfg.Archive.RetentionDays < 0 {
			return errors.New("archive.retention_days must be >= 0")
		}
		if cfg.Archive.MaxItems < 0 {
			return errors.New("archive.max_items must be >= 0")
		}
	}
	if cfg.Triage.MinPostLength < 0 {
		return errors.New("triage.min_post_length must be >= 0")
	}
	if cfg.Triage.MaxPostLength <= cfg.Triage.MinPostLength {
		return errors.New("triage.max_post_length must be greater than min_post_length")
	}
	if cfg.Triage.SummaryMaxChars <= 3 {
		return errors.New("triage.summary_max_chars must be greater than 3")
	}
	switch cfg.LLM.Mode {
	case "mock":
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "openai":
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set when mode=openai")
		}
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec|openai")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "stream":
		if cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=stream")
		}
		if cfg.TTS.APIKey == "" {
			return errors.New("tts.api_key must be set when mode=stream")
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of stream|exec|mock")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	switch strings.ToUpper(cfg.TTS.ChannelType) {
	case "MONO", "STEREO":
	default:
		return errors.New("tts.channel_type must be one of MONO|STEREO")
	}
	if cfg.TTS.MaxChunkChars <= 0 {
		return errors.New("tts.max_chunk_chars must be positive")
	}
	if cfg.TTS.HeaderBytes < 0 {
		return errors.New("tts.header_bytes must be >= 0")
	}
	if cfg.TTS.StallTimeoutMS <= 0 {
		return errors.New("tts.stall_timeout_ms must be positive")
	}
	if err := cfg.Voice.Validate(); err != nil {
		return fmt.Errorf("voice: %w", err)
	}
	switch cfg.Sink.Mode {
	case "file":
		if cfg.Sink.Directory == "" {
			return errors.New("sink.directory must be set when mode=file")
		}
	case "objectstore":
		if cfg.Sink.Bucket == "" {
			return errors.New("sink.bucket must be set when mode=objectstore")
		}
	case "s3":
		if cfg.Sink.S3.Bucket == "" {
			return errors.New("sink.s3.bucket must be set when mode=s3")
		}
		if (cfg.Sink.S3.AccessKey == "") != (cfg.Sink.S3.SecretKey == "") {
			return errors.New("sink.s3.access_key and sink.s3.secret_key must be set together")
		}
	default:
		return errors.New("sink.mode must be one of file|objectstore|s3")
	}
	if cfg.Feed.Fanout <= 0 {
		return errors.New("feed.fanout must be >= 1")
	}
	if cfg.Feed.SeenCapacity <= 0 {
		return errors.New("feed.seen_capacity must be >= 1")
	}
	if cfg.Feed.HistoryMaxItems < 0 {
		return errors.New("feed.history_max_items must be >= 0")
	}
	if cfg.Feed.ContextPrefix == "" {
		return errors.New("feed.context_prefix must not be empty")
	}
	if cfg.Feed.DigestWindowHours <= 0 {
		return errors.New("feed.digest_window_hours must be positive")
	}
	if cfg.Feed.Retry.MaxRetries < 0 {
		return errors.New("feed.retry.max_retries must be >= 0")
	}
	if cfg.Feed.Retry.MaxRetries > 0 && cfg.Feed.Retry.BackoffMS <= 0 {
		return errors.New("feed.retry.backoff_ms must be positive when retries are enabled")
	}
	if cfg.Feed.Retry.MaxBackoffMS < cfg.Feed.Retry.BackoffMS {
		return errors.New("feed.retry.max_backoff_ms must be >= backoff_ms")
	}
	if cfg.Ingest.Enabled && cfg.Ingest.MaxBatch <= 0 {
		return errors.New("ingest.max_batch must be >= 1")
	}
	return nil
}
