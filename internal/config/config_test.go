package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WakeWord != "totoro" {
		t.Fatalf("WakeWord = %q, want %q", cfg.WakeWord, "totoro")
	}
	if cfg.RecognitionTimeout() != 30*time.Second {
		t.Fatalf("RecognitionTimeout() = %s, want 30s", cfg.RecognitionTimeout())
	}
	if cfg.CommandTimeout() != 10*time.Second {
		t.Fatalf("CommandTimeout() = %s, want 10s", cfg.CommandTimeout())
	}
	if cfg.TTSSampleRateHz != 22050 || cfg.TTSChunkSizeSamples != 4096 || cfg.TTSBufferChunks != 3 {
		t.Fatalf("tts defaults = %d/%d/%d, want 22050/4096/3", cfg.TTSSampleRateHz, cfg.TTSChunkSizeSamples, cfg.TTSBufferChunks)
	}
	if cfg.HistoryMaxTurns != 20 || cfg.HistoryPromptTailTurns != 6 || cfg.HistoryTurnTruncateChars != 200 {
		t.Fatalf("history defaults = %d/%d/%d, want 20/6/200", cfg.HistoryMaxTurns, cfg.HistoryPromptTailTurns, cfg.HistoryTurnTruncateChars)
	}
	if cfg.BindAddr != "" {
		t.Fatalf("BindAddr = %q, want empty default", cfg.BindAddr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("WAKE_WORD", "hey totoro")
	t.Setenv("LLM_TEMPERATURE_GENERAL", "0.3")
	t.Setenv("TTS_QUANTIZATION", "dynamic")
	t.Setenv("TTS_BUFFER_CHUNKS", "0")
	t.Setenv("SESSION_ERROR_COOLDOWN", "250ms")
	t.Setenv("TTS_MOCK", "yes")
	t.Setenv("LLM_MOCK", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WakeWord != "hey totoro" {
		t.Fatalf("WakeWord = %q, want env value", cfg.WakeWord)
	}
	if cfg.LLMTemperatureGeneral != 0.3 {
		t.Fatalf("LLMTemperatureGeneral = %v, want 0.3", cfg.LLMTemperatureGeneral)
	}
	if cfg.TTSQuantization != "dynamic" {
		t.Fatalf("TTSQuantization = %q, want dynamic", cfg.TTSQuantization)
	}
	if cfg.TTSBufferChunks != 0 {
		t.Fatalf("TTSBufferChunks = %d, want 0", cfg.TTSBufferChunks)
	}
	if cfg.SessionErrorCooldown != 250*time.Millisecond {
		t.Fatalf("SessionErrorCooldown = %s, want 250ms", cfg.SessionErrorCooldown)
	}
	if !cfg.TTSMock {
		t.Fatalf("TTSMock = false, want true")
	}
	if !cfg.LLMMock {
		t.Fatalf("LLMMock = false, want true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"TTS_QUANTIZATION":  "int4",
		"TTS_BUFFER_CHUNKS": "-1",
		"LLM_RETRY_MAX":     "0",
		"HISTORY_MAX_TURNS": "abc",
		"APP_MODE":          "daemon",
		"LLM_RETRY_BACKOFF": "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func TestLoadFileAppliesYAMLThenEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "totoro.yaml")
	body := strings.Join([]string{
		"wake_word: hey totoro",
		"llm_model: qwen2.5:7b",
		"tts_chunk_size_samples: 2048",
		"llm_attempt_timeout: 20s",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("LLM_MODEL", "llama3.1:8b-instruct")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.WakeWord != "hey totoro" {
		t.Fatalf("WakeWord = %q, want file value", cfg.WakeWord)
	}
	if cfg.LLMModel != "llama3.1:8b-instruct" {
		t.Fatalf("LLMModel = %q, want env override", cfg.LLMModel)
	}
	if cfg.TTSChunkSizeSamples != 2048 {
		t.Fatalf("TTSChunkSizeSamples = %d, want 2048", cfg.TTSChunkSizeSamples)
	}
	if cfg.LLMAttemptTimeout != 20*time.Second {
		t.Fatalf("LLMAttemptTimeout = %s, want 20s", cfg.LLMAttemptTimeout)
	}
	if cfg.TTSSampleRateHz != 22050 {
		t.Fatalf("TTSSampleRateHz = %d, want default kept", cfg.TTSSampleRateHz)
	}
}

func TestLoadRejectsUnknownOption(t *testing.T) {
	setCoreEnvEmpty(t)
	_, err := load(strings.NewReader("wake_word: totoro\nwake_sensitivity: 0.4\n"))
	if err == nil {
		t.Fatalf("load() error = nil, want unknown option error")
	}
	if !strings.Contains(err.Error(), "wake_sensitivity") {
		t.Fatalf("load() error = %v, want mention of unknown key", err)
	}
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	cfg, err := load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.LLMBaseURL != "http://localhost:11434" {
		t.Fatalf("LLMBaseURL = %q, want default", cfg.LLMBaseURL)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"WAKE_WORD",
		"RECOGNITION_TIMEOUT_S",
		"COMMAND_TIMEOUT_S",
		"LLM_MODEL",
		"LLM_BASE_URL",
		"LLM_TEMPERATURE_SMART_HOME",
		"LLM_TEMPERATURE_GENERAL",
		"LLM_RETRY_MAX",
		"LLM_ATTEMPT_TIMEOUT",
		"LLM_CONNECT_TIMEOUT",
		"LLM_MAX_TOKENS",
		"LLM_RETRY_BACKOFF",
		"TTS_MODEL_NAME",
		"TTS_QUANTIZATION",
		"TTS_SAMPLE_RATE_HZ",
		"TTS_CHUNK_SIZE_SAMPLES",
		"TTS_BUFFER_CHUNKS",
		"TTS_SPEAKER_REFERENCE_PATH",
		"TTS_LANGUAGE",
		"TTS_PACING_FACTOR",
		"TTS_WORKER_PYTHON",
		"TTS_WORKER_SCRIPT",
		"TTS_MOCK",
		"LLM_MOCK",
		"APP_ALLOW_ANY_ORIGIN",
		"AUDIO_SINK",
		"HISTORY_MAX_TURNS",
		"HISTORY_PROMPT_TAIL_TURNS",
		"HISTORY_TURN_TRUNCATE_CHARS",
		"APP_MODE",
		"DEFAULT_ROOM",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"DATABASE_URL",
		"SESSION_AWAKE_HOLD",
		"SESSION_ERROR_COOLDOWN",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
