package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"VOXPREP_ADDR",
	"VOXPREP_AUTH_MODE",
	"VOXPREP_API_KEYS",
	"VOXPREP_TRUST_PROXY_HEADERS",
	"VOXPREP_CORS_ORIGINS",
	"VOXPREP_DATABASE_URL",
	"VOXPREP_PERSIST_TIMEOUT",
	"VOXPREP_CARTESIA_API_KEY",
	"VOXPREP_QUESTION_GRAPH",
	"VOXPREP_SESSION_DURATION",
	"VOXPREP_INACTIVITY_THRESHOLD",
	"VOXPREP_INACTIVITY_RESPONSE",
	"VOXPREP_INACTIVITY_PROMPT_LIMIT",
	"VOXPREP_SILENCE_COMMIT",
	"VOXPREP_NEXT_QUESTION_DELAY",
	"VOXPREP_TIME_REMAINING_INTERVAL",
	"VOXPREP_INACTIVITY_POLL",
	"VOXPREP_SESSION_STARTS_PER_MINUTE",
	"VOXPREP_SESSION_START_BURST",
	"VOXPREP_MAX_CONCURRENT_SESSIONS",
	"VOXPREP_MAX_AUDIO_FRAME_BYTES",
	"VOXPREP_MAX_JSON_MESSAGE_BYTES",
	"VOXPREP_WS_PING_INTERVAL",
	"VOXPREP_WS_WRITE_TIMEOUT",
	"VOXPREP_WS_READ_TIMEOUT",
	"VOXPREP_HANDSHAKE_TIMEOUT",
	"VOXPREP_OUTBOUND_QUEUE_SIZE",
	"VOXPREP_VOICE_ID",
	"VOXPREP_VOICE_LANGUAGE",
	"VOXPREP_VOICE_SPEED",
	"VOXPREP_AUDIO_OUT_FORMAT",
	"VOXPREP_AUDIO_OUT_SAMPLE_RATE",
	"VOXPREP_READ_HEADER_TIMEOUT",
	"VOXPREP_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("auth mode=%q, want disabled", cfg.AuthMode)
	}
	if cfg.SessionDuration != 15*time.Minute {
		t.Fatalf("session duration=%v, want 15m", cfg.SessionDuration)
	}
	if cfg.InactivityThreshold != 2*time.Minute {
		t.Fatalf("inactivity threshold=%v, want 2m", cfg.InactivityThreshold)
	}
	if cfg.InactivityResponse != 25*time.Second {
		t.Fatalf("inactivity response=%v, want 25s", cfg.InactivityResponse)
	}
	if cfg.InactivityPromptLimit != 1 {
		t.Fatalf("prompt limit=%d, want 1", cfg.InactivityPromptLimit)
	}
	if cfg.SilenceCommit != 3*time.Second {
		t.Fatalf("silence commit=%v, want 3s", cfg.SilenceCommit)
	}
	if cfg.NextQuestionDelay != 1200*time.Millisecond {
		t.Fatalf("next question delay=%v, want 1.2s", cfg.NextQuestionDelay)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("database url=%q, want empty", cfg.DatabaseURL)
	}
	if cfg.AudioOutFormat != "mp3" {
		t.Fatalf("audio format=%q", cfg.AudioOutFormat)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("VOXPREP_ADDR", ":9000")
	t.Setenv("VOXPREP_SESSION_DURATION", "10m")
	t.Setenv("VOXPREP_SILENCE_COMMIT", "1500ms")
	t.Setenv("VOXPREP_INACTIVITY_PROMPT_LIMIT", "2")
	t.Setenv("VOXPREP_DATABASE_URL", "postgres://localhost/voxprep")
	t.Setenv("VOXPREP_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.SessionDuration != 10*time.Minute {
		t.Fatalf("session duration=%v", cfg.SessionDuration)
	}
	if cfg.SilenceCommit != 1500*time.Millisecond {
		t.Fatalf("silence commit=%v", cfg.SilenceCommit)
	}
	if cfg.InactivityPromptLimit != 2 {
		t.Fatalf("prompt limit=%d", cfg.InactivityPromptLimit)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("cors origins=%v", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://b.example"]; !ok {
		t.Fatalf("cors origins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_RequiredAuthNeedsKeys(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("VOXPREP_AUTH_MODE", "required")

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "VOXPREP_API_KEYS") {
		t.Fatalf("err=%v, want missing api keys error", err)
	}

	t.Setenv("VOXPREP_API_KEYS", "key-a,key-b")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("api keys=%v", cfg.APIKeys)
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"VOXPREP_AUTH_MODE", "sometimes"},
		{"VOXPREP_SESSION_DURATION", "-1m"},
		{"VOXPREP_VOICE_SPEED", "3.0"},
		{"VOXPREP_AUDIO_OUT_FORMAT", "ogg"},
		{"VOXPREP_INACTIVITY_PROMPT_LIMIT", "0"},
		{"VOXPREP_SESSION_STARTS_PER_MINUTE", "-1"},
		{"VOXPREP_MAX_CONCURRENT_SESSIONS", "-5"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadFromEnv_BadDurationFallsBackToDefault(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("VOXPREP_SILENCE_COMMIT", "not-a-duration")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SilenceCommit != 3*time.Second {
		t.Fatalf("silence commit=%v, want default 3s", cfg.SilenceCommit)
	}
}
