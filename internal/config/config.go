package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the voice pipeline service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	WSReadLimitBytes    int
	WSMessagesPerSecond float64
	WSMessageBurst      int
	MaxUploadBytes      int

	StageTimeout         time.Duration
	ProviderMaxRetries   int
	ProviderRetryBackoff time.Duration
	SampleRate           int

	STTProvider         string
	WhisperURL          string
	WhisperModel        string
	WhisperLanguage     string
	WhisperAPIKey       string
	GeminiAPIKey        string
	GeminiModel         string
	GeminiBaseURL       string
	GeminiAudioMIMEType string

	LLMProvider         string
	LLMFallbackProvider string
	RunpodBaseURL       string
	RunpodAPIKey        string
	RunpodModel         string
	LLMSystemPrompt     string
	ChatServiceURL      string
	ChatServiceAPIKey   string

	TTSProvider   string
	TTSServiceURL string
	TTSSpeakerID  string
	TTSLanguage   string
	TTSSpeed      float64

	DatabaseURL string

	OTLPEndpoint string
	OTLPInsecure bool
	TraceStdout  bool

	// ConfigFile is the YAML file that was overlaid, if any.
	ConfigFile string
}

// Load reads APP_CONFIG_FILE (when set) and then environment variables, and
// applies safe defaults. Environment values win over the file.
func Load() (Config, error) {
	src := env{}
	path := trimSpace(os.Getenv("APP_CONFIG_FILE"))
	if path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		BindAddr:         src.orDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: src.orDefault("APP_METRICS_NAMESPACE", "voicepipeline"),
		LogLevel:         strings.ToLower(src.orDefault("APP_LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(src.orDefault("APP_LOG_FORMAT", "json")),

		STTProvider:         strings.ToLower(src.orDefault("VOICE_STT_PROVIDER", "auto")),
		WhisperURL:          src.lookup("VOICE_WHISPER_URL"),
		WhisperModel:        src.orDefault("VOICE_WHISPER_MODEL", "base"),
		WhisperLanguage:     src.lookup("VOICE_WHISPER_LANGUAGE"),
		WhisperAPIKey:       src.lookup("VOICE_WHISPER_API_KEY"),
		GeminiAPIKey:        src.lookup("VOICE_GEMINI_API_KEY"),
		GeminiModel:         src.orDefault("VOICE_GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:       src.lookup("VOICE_GEMINI_BASE_URL"),
		GeminiAudioMIMEType: src.orDefault("VOICE_GEMINI_AUDIO_MIME_TYPE", "audio/wav"),

		LLMProvider:         strings.ToLower(src.orDefault("VOICE_LLM_PROVIDER", "auto")),
		LLMFallbackProvider: strings.ToLower(src.lookup("VOICE_LLM_FALLBACK_PROVIDER")),
		RunpodBaseURL:       src.lookup("VOICE_RUNPOD_BASE_URL"),
		RunpodAPIKey:        src.lookup("VOICE_RUNPOD_API_KEY"),
		RunpodModel:         src.orDefault("VOICE_RUNPOD_MODEL", "gpt-4o-mini"),
		LLMSystemPrompt:     src.lookup("VOICE_LLM_SYSTEM_PROMPT"),
		ChatServiceURL:      src.lookup("VOICE_CHAT_SERVICE_URL"),
		ChatServiceAPIKey:   src.lookup("VOICE_CHAT_SERVICE_API_KEY"),

		TTSProvider:   strings.ToLower(src.orDefault("VOICE_TTS_PROVIDER", "auto")),
		TTSServiceURL: src.lookup("VOICE_TTS_SERVICE_URL"),
		TTSSpeakerID:  src.lookup("VOICE_TTS_SPEAKER_ID"),
		TTSLanguage:   src.orDefault("VOICE_TTS_LANGUAGE", "en"),

		DatabaseURL:  src.lookup("DATABASE_URL"),
		OTLPEndpoint: src.lookup("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ConfigFile:   path,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
		WSReadLimitBytes:         4 << 20,
		WSMessageBurst:           64,
		MaxUploadBytes:           25 << 20,
		StageTimeout:             60 * time.Second,
		ProviderMaxRetries:       1,
		ProviderRetryBackoff:     250 * time.Millisecond,
		SampleRate:               22050,
		TTSSpeed:                 1.0,
	}

	var err error
	cfg.ShutdownTimeout, err = src.duration("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = src.duration("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = src.boolean("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.WSReadLimitBytes, err = src.integer("APP_WS_READ_LIMIT_BYTES", cfg.WSReadLimitBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.WSMessagesPerSecond, err = src.float("APP_WS_MESSAGES_PER_SECOND", cfg.WSMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	cfg.WSMessageBurst, err = src.integer("APP_WS_MESSAGE_BURST", cfg.WSMessageBurst)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxUploadBytes, err = src.integer("APP_MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.StageTimeout, err = src.duration("VOICE_STAGE_TIMEOUT", cfg.StageTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderMaxRetries, err = src.integer("VOICE_PROVIDER_MAX_RETRIES", cfg.ProviderMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderRetryBackoff, err = src.duration("VOICE_PROVIDER_RETRY_BACKOFF", cfg.ProviderRetryBackoff)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = src.integer("VOICE_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSSpeed, err = src.float("VOICE_TTS_SPEED", cfg.TTSSpeed)
	if err != nil {
		return Config{}, err
	}
	cfg.OTLPInsecure, err = src.boolean("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTLPInsecure)
	if err != nil {
		return Config{}, err
	}
	cfg.TraceStdout, err = src.boolean("APP_TRACE_STDOUT", cfg.TraceStdout)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.WSReadLimitBytes <= 0 {
		return fmt.Errorf("APP_WS_READ_LIMIT_BYTES must be positive")
	}
	if cfg.WSMessagesPerSecond < 0 {
		return fmt.Errorf("APP_WS_MESSAGES_PER_SECOND must be >= 0")
	}
	if cfg.WSMessageBurst <= 0 {
		return fmt.Errorf("APP_WS_MESSAGE_BURST must be positive")
	}
	if cfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("APP_MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.ProviderMaxRetries < 0 {
		return fmt.Errorf("VOICE_PROVIDER_MAX_RETRIES must be >= 0")
	}
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("VOICE_SAMPLE_RATE must be positive")
	}
	if cfg.TTSSpeed <= 0 || cfg.TTSSpeed > 4 {
		return fmt.Errorf("VOICE_TTS_SPEED must be in (0, 4]")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be json or console, got %q", cfg.LogFormat)
	}
	if err := oneOf("VOICE_STT_PROVIDER", cfg.STTProvider, "auto", "whisper", "gemini", "mock"); err != nil {
		return err
	}
	if err := oneOf("VOICE_LLM_PROVIDER", cfg.LLMProvider, "auto", "runpod", "chat_service", "mock"); err != nil {
		return err
	}
	if cfg.LLMFallbackProvider != "" {
		if err := oneOf("VOICE_LLM_FALLBACK_PROVIDER", cfg.LLMFallbackProvider, "runpod", "chat_service", "mock"); err != nil {
			return err
		}
	}
	return oneOf("VOICE_TTS_PROVIDER", cfg.TTSProvider, "auto", "coqui", "mock")
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), v)
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

// env resolves keys from the process environment, then the config file.
type env struct {
	file map[string]string
}

func (e env) lookup(key string) string {
	if v := trimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return trimSpace(e.file[key])
}

func (e env) orDefault(key, fallback string) string {
	v := e.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func (e env) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := e.lookup(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (e env) integer(key string, fallback int) (int, error) {
	v := e.lookup(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (e env) float(key string, fallback float64) (float64, error) {
	v := e.lookup(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func (e env) boolean(key string, fallback bool) (bool, error) {
	v := strings.ToLower(e.lookup(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
