package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.MaxChunkChars != 3000 || cfg.TTS.HeaderBytes != 44 || cfg.TTS.SampleRate != 44100 {
		t.Fatalf("unexpected tts defaults %+v", cfg.TTS)
	}
	if cfg.Voice.VoiceID != "en-US-amara" || cfg.Feed.Fanout != 4 {
		t.Fatalf("unexpected voice or feed defaults")
	}
}

func TestLLMModeDefaults(t *testing.T) {
	t.Setenv("FEEDCAST_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("FEEDCAST_LLM_MODE", "openai")
	t.Setenv("FEEDCAST_LLM_API_KEY", "sk-test")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Endpoint != "" || cfg.LLM.Model != "" {
		t.Fatalf("openai must default to the public api, got endpoint %q model %q", cfg.LLM.Endpoint, cfg.LLM.Model)
	}

	t.Setenv("FEEDCAST_LLM_MODE", "ollama")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Endpoint != "http://localhost:11434" || cfg.LLM.Model != "llama3.2:latest" {
		t.Fatalf("unexpected ollama defaults %+v", cfg.LLM)
	}
}

func TestTTSChannels(t *testing.T) {
	if got := (TTSConfig{ChannelType: "MONO"}).Channels(); got != 1 {
		t.Fatalf("MONO channels = %d", got)
	}
	if got := (TTSConfig{ChannelType: "stereo"}).Channels(); got != 2 {
		t.Fatalf("stereo channels = %d", got)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedcast.yaml")
	data := `
runtime_name: test-feedcast
tts:
  mode: stream
  api_key: key-from-file
  max_chunk_chars: 500
voice:
  voice_id: en-GB-charles
  style: Formal
  variation: 2
feed:
  fanout: 8
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "test-feedcast" || cfg.TTS.Mode != "stream" || cfg.TTS.MaxChunkChars != 500 {
		t.Fatalf("yaml values not applied: %+v", cfg.TTS)
	}
	if cfg.TTS.Endpoint == "" {
		t.Fatalf("defaults must survive partial yaml")
	}
	if cfg.Voice.VoiceID != "en-GB-charles" || cfg.Voice.Variation != 2 || cfg.Feed.Fanout != 8 {
		t.Fatalf("unexpected voice %+v", cfg.Voice)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FEEDCAST_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("FEEDCAST_BUS_USERNAME", "alice")
	t.Setenv("FEEDCAST_BUS_PASSWORD", "secret")
	t.Setenv("FEEDCAST_BUS_TLS_INSECURE", "true")
	t.Setenv("FEEDCAST_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("FEEDCAST_ARCHIVE_PATH", "./tmp.db")
	t.Setenv("FEEDCAST_ARCHIVE_RETENTION_MODE", "ephemeral")
	t.Setenv("FEEDCAST_ARCHIVE_RETENTION_DAYS", "7")
	t.Setenv("FEEDCAST_ARCHIVE_MAX_ITEMS", "123")
	t.Setenv("FEEDCAST_TTS_MAX_CHUNK_CHARS", "1200")
	t.Setenv("FEEDCAST_VOICE_RATE", "-3")
	t.Setenv("FEEDCAST_FEED_RETRY_MAX_RETRIES", "2")
	t.Setenv("FEEDCAST_LLM_TEMPERATURE", "0.9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Archive.Path != "./tmp.db" || cfg.Archive.RetentionMode != "ephemeral" {
		t.Fatalf("expected archive overrides")
	}
	if cfg.Archive.RetentionDays != 7 || cfg.Archive.MaxItems != 123 {
		t.Fatalf("expected archive retention overrides")
	}
	if cfg.TTS.MaxChunkChars != 1200 || cfg.Voice.Rate != -3 {
		t.Fatalf("expected tts and voice overrides")
	}
	if cfg.Feed.Retry.MaxRetries != 2 || cfg.LLM.Temperature != 0.9 {
		t.Fatalf("expected retry and temperature overrides")
	}
}

func TestDotEnvFile(t *testing.T) {
	const key = "FEEDCAST_TTS_API_KEY"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set in the environment", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte(key+"=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("FEEDCAST_ENV_FILE", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTS.APIKey != "from-dotenv" {
		t.Fatalf("expected api key from env file, got %q", cfg.TTS.APIKey)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"stream without key", func(c *Config) { c.TTS.Mode = "stream" }, "tts.api_key"},
		{"unknown tts mode", func(c *Config) { c.TTS.Mode = "speaker" }, "tts.mode"},
		{"openai without key", func(c *Config) { c.LLM.Mode = "openai" }, "llm.api_key"},
		{"unknown channel type", func(c *Config) { c.TTS.ChannelType = "SURROUND" }, "tts.channel_type"},
		{"bad voice", func(c *Config) { c.Voice.Pitch = 20 }, "voice"},
		{"zero fanout", func(c *Config) { c.Feed.Fanout = 0 }, "feed.fanout"},
		{"objectstore without bucket", func(c *Config) { c.Sink.Mode = "objectstore"; c.Sink.Bucket = "" }, "sink.bucket"},
		{"s3 without bucket", func(c *Config) { c.Sink.Mode = "s3" }, "sink.s3.bucket"},
		{"s3 half credentials", func(c *Config) { c.Sink.Mode = "s3"; c.Sink.S3.Bucket = "b"; c.Sink.S3.AccessKey = "k" }, "secret_key"},
		{"bad retention", func(c *Config) { c.Archive.RetentionMode = "forever" }, "archive.retention_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
