package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains every recognized runtime setting for the assistant.
// Field names in YAML match the option names; env vars are the same names upper-cased.
type Config struct {
	WakeWord            string `yaml:"wake_word"`
	RecognitionTimeoutS int    `yaml:"recognition_timeout_s"`
	CommandTimeoutS     int    `yaml:"command_timeout_s"`

	LLMModel                string  `yaml:"llm_model"`
	LLMBaseURL              string  `yaml:"llm_base_url"`
	LLMTemperatureSmartHome float64 `yaml:"llm_temperature_smart_home"`
	LLMTemperatureGeneral   float64 `yaml:"llm_temperature_general"`
	LLMRetryMax             int     `yaml:"llm_retry_max"`
	LLMMock                 bool    `yaml:"llm_mock"`

	TTSModelName            string `yaml:"tts_model_name"`
	TTSQuantization         string `yaml:"tts_quantization"`
	TTSSampleRateHz         int    `yaml:"tts_sample_rate_hz"`
	TTSChunkSizeSamples     int    `yaml:"tts_chunk_size_samples"`
	TTSBufferChunks         int    `yaml:"tts_buffer_chunks"`
	TTSSpeakerReferencePath string `yaml:"tts_speaker_reference_path"`

	HistoryMaxTurns          int `yaml:"history_max_turns"`
	HistoryPromptTailTurns   int `yaml:"history_prompt_tail_turns"`
	HistoryTurnTruncateChars int `yaml:"history_turn_truncate_chars"`

	Mode             string        `yaml:"mode"`
	DefaultRoom      string        `yaml:"default_room"`
	BindAddr         string        `yaml:"bind_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	DatabaseURL      string        `yaml:"database_url"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`

	LLMAttemptTimeout time.Duration `yaml:"llm_attempt_timeout"`
	LLMConnectTimeout time.Duration `yaml:"llm_connect_timeout"`
	LLMMaxTokens      int           `yaml:"llm_max_tokens"`
	LLMRetryBackoff   time.Duration `yaml:"llm_retry_backoff"`

	TTSLanguage     string  `yaml:"tts_language"`
	TTSPacingFactor float64 `yaml:"tts_pacing_factor"`
	TTSWorkerPython string  `yaml:"tts_worker_python"`
	TTSWorkerScript string  `yaml:"tts_worker_script"`
	TTSMock         bool    `yaml:"tts_mock"`
	AudioSink       string  `yaml:"audio_sink"`

	SessionAwakeHold     time.Duration `yaml:"session_awake_hold"`
	SessionErrorCooldown time.Duration `yaml:"session_error_cooldown"`
}

// Default returns the built-in settings before any file or environment overrides.
func Default() Config {
	return Config{
		WakeWord:            "totoro",
		RecognitionTimeoutS: 30,
		CommandTimeoutS:     10,

		LLMModel:                "llama3.1:8b",
		LLMBaseURL:              "http://localhost:11434",
		LLMTemperatureSmartHome: 0.1,
		LLMTemperatureGeneral:   0.7,
		LLMRetryMax:             3,

		TTSModelName:        "tts_models/multilingual/multi-dataset/xtts_v2",
		TTSQuantization:     "none",
		TTSSampleRateHz:     22050,
		TTSChunkSizeSamples: 4096,
		TTSBufferChunks:     3,

		HistoryMaxTurns:          20,
		HistoryPromptTailTurns:   6,
		HistoryTurnTruncateChars: 200,

		Mode:             "wake",
		DefaultRoom:      "living_room",
		ShutdownTimeout:  10 * time.Second,
		MetricsNamespace: "totoro",
		LogLevel:         "info",
		LogFormat:        "console",

		LLMAttemptTimeout: 60 * time.Second,
		LLMConnectTimeout: 5 * time.Second,
		LLMMaxTokens:      512,
		LLMRetryBackoff:   250 * time.Millisecond,

		TTSLanguage:     "en",
		TTSPacingFactor: 0.8,
		TTSWorkerPython: "python3",
		TTSWorkerScript: "scripts/xtts_worker.py",
		AudioSink:       "malgo",

		SessionAwakeHold:     500 * time.Millisecond,
		SessionErrorCooldown: time.Second,
	}
}

// Load reads environment variables on top of the defaults.
func Load() (Config, error) {
	cfg := Default()
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file, then applies environment overrides.
// Unknown keys in the file are rejected.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return load(f)
}

func load(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RecognitionTimeout is the wake phrase wait.
func (c Config) RecognitionTimeout() time.Duration {
	return time.Duration(c.RecognitionTimeoutS) * time.Second
}

// CommandTimeout is how long to wait for an utterance after the wake phrase.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutS) * time.Second
}

func applyEnv(cfg *Config) error {
	stringFromEnv("WAKE_WORD", &cfg.WakeWord)
	stringFromEnv("LLM_MODEL", &cfg.LLMModel)
	stringFromEnv("LLM_BASE_URL", &cfg.LLMBaseURL)
	stringFromEnv("TTS_MODEL_NAME", &cfg.TTSModelName)
	stringFromEnv("TTS_QUANTIZATION", &cfg.TTSQuantization)
	stringFromEnv("TTS_SPEAKER_REFERENCE_PATH", &cfg.TTSSpeakerReferencePath)
	stringFromEnv("APP_MODE", &cfg.Mode)
	stringFromEnv("DEFAULT_ROOM", &cfg.DefaultRoom)
	stringFromEnv("APP_BIND_ADDR", &cfg.BindAddr)
	stringFromEnv("APP_METRICS_NAMESPACE", &cfg.MetricsNamespace)
	stringFromEnv("APP_LOG_LEVEL", &cfg.LogLevel)
	stringFromEnv("APP_LOG_FORMAT", &cfg.LogFormat)
	stringFromEnv("DATABASE_URL", &cfg.DatabaseURL)
	stringFromEnv("TTS_LANGUAGE", &cfg.TTSLanguage)
	stringFromEnv("TTS_WORKER_PYTHON", &cfg.TTSWorkerPython)
	stringFromEnv("TTS_WORKER_SCRIPT", &cfg.TTSWorkerScript)
	stringFromEnv("AUDIO_SINK", &cfg.AudioSink)

	ints := []struct {
		key string
		dst *int
	}{
		{"RECOGNITION_TIMEOUT_S", &cfg.RecognitionTimeoutS},
		{"COMMAND_TIMEOUT_S", &cfg.CommandTimeoutS},
		{"LLM_RETRY_MAX", &cfg.LLMRetryMax},
		{"LLM_MAX_TOKENS", &cfg.LLMMaxTokens},
		{"TTS_SAMPLE_RATE_HZ", &cfg.TTSSampleRateHz},
		{"TTS_CHUNK_SIZE_SAMPLES", &cfg.TTSChunkSizeSamples},
		{"TTS_BUFFER_CHUNKS", &cfg.TTSBufferChunks},
		{"HISTORY_MAX_TURNS", &cfg.HistoryMaxTurns},
		{"HISTORY_PROMPT_TAIL_TURNS", &cfg.HistoryPromptTailTurns},
		{"HISTORY_TURN_TRUNCATE_CHARS", &cfg.HistoryTurnTruncateChars},
	}
	for _, f := range ints {
		v, err := intFromEnv(f.key, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"LLM_TEMPERATURE_SMART_HOME", &cfg.LLMTemperatureSmartHome},
		{"LLM_TEMPERATURE_GENERAL", &cfg.LLMTemperatureGeneral},
		{"TTS_PACING_FACTOR", &cfg.TTSPacingFactor},
	}
	for _, f := range floats {
		v, err := floatFromEnv(f.key, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"LLM_ATTEMPT_TIMEOUT", &cfg.LLMAttemptTimeout},
		{"LLM_CONNECT_TIMEOUT", &cfg.LLMConnectTimeout},
		{"LLM_RETRY_BACKOFF", &cfg.LLMRetryBackoff},
		{"SESSION_AWAKE_HOLD", &cfg.SessionAwakeHold},
		{"SESSION_ERROR_COOLDOWN", &cfg.SessionErrorCooldown},
	}
	for _, f := range durations {
		v, err := durationFromEnv(f.key, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"TTS_MOCK", &cfg.TTSMock},
		{"LLM_MOCK", &cfg.LLMMock},
		{"APP_ALLOW_ANY_ORIGIN", &cfg.AllowAnyOrigin},
	}
	for _, f := range bools {
		v, err := boolFromEnv(f.key, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.WakeWord) == "" {
		return fmt.Errorf("wake_word must not be empty")
	}
	if c.RecognitionTimeoutS <= 0 {
		return fmt.Errorf("recognition_timeout_s must be positive")
	}
	if c.CommandTimeoutS <= 0 {
		return fmt.Errorf("command_timeout_s must be positive")
	}
	if c.LLMModel == "" || c.LLMBaseURL == "" {
		return fmt.Errorf("llm_model and llm_base_url are required")
	}
	if c.LLMRetryMax < 1 {
		return fmt.Errorf("llm_retry_max must be at least 1")
	}
	if c.LLMTemperatureSmartHome < 0 || c.LLMTemperatureGeneral < 0 {
		return fmt.Errorf("llm temperatures must be >= 0")
	}
	switch c.TTSQuantization {
	case "none", "fp16", "dynamic":
	default:
		return fmt.Errorf("tts_quantization must be one of none, fp16, dynamic (got %q)", c.TTSQuantization)
	}
	if c.TTSSampleRateHz <= 0 {
		return fmt.Errorf("tts_sample_rate_hz must be positive")
	}
	if c.TTSChunkSizeSamples <= 0 {
		return fmt.Errorf("tts_chunk_size_samples must be positive")
	}
	if c.TTSBufferChunks < 0 {
		return fmt.Errorf("tts_buffer_chunks must be >= 0")
	}
	if c.TTSPacingFactor < 0 {
		return fmt.Errorf("tts_pacing_factor must be >= 0")
	}
	if c.HistoryMaxTurns <= 0 {
		return fmt.Errorf("history_max_turns must be positive")
	}
	if c.HistoryPromptTailTurns < 0 || c.HistoryPromptTailTurns > c.HistoryMaxTurns {
		return fmt.Errorf("history_prompt_tail_turns must be between 0 and history_max_turns")
	}
	if c.HistoryTurnTruncateChars <= 0 {
		return fmt.Errorf("history_turn_truncate_chars must be positive")
	}
	switch c.Mode {
	case "wake", "text":
	default:
		return fmt.Errorf("mode must be wake or text (got %q)", c.Mode)
	}
	switch c.AudioSink {
	case "malgo", "discard":
	default:
		return fmt.Errorf("audio_sink must be malgo or discard (got %q)", c.AudioSink)
	}
	if c.LLMAttemptTimeout <= 0 {
		return fmt.Errorf("llm_attempt_timeout must be positive")
	}
	return nil
}

func stringFromEnv(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
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
