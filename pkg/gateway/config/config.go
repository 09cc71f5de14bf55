// Package config loads gateway configuration from VOXPREP_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like
	// X-Forwarded-For. Only enable behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Persistence. Empty DatabaseURL disables it entirely.
	DatabaseURL    string
	PersistTimeout time.Duration

	// Voice capabilities. An empty Cartesia key disables speech capture and
	// prompt audio; sessions fall back to text answers.
	CartesiaAPIKey string

	// Question graph override file; empty means the embedded stock graph.
	QuestionGraphPath string

	// Interview timing policy.
	SessionDuration       time.Duration
	InactivityThreshold   time.Duration
	InactivityResponse    time.Duration
	InactivityPromptLimit int
	SilenceCommit         time.Duration
	NextQuestionDelay     time.Duration
	TimeRemainingInterval time.Duration
	InactivityPoll        time.Duration

	// Session admission limits. Zero values disable the corresponding check.
	SessionStartsPerMinute float64
	SessionStartBurst      int
	MaxConcurrentSessions  int

	// Live websocket limits.
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	WSPingInterval      time.Duration
	WSWriteTimeout      time.Duration
	WSReadTimeout       time.Duration
	HandshakeTimeout    time.Duration
	OutboundQueueSize   int

	// Spoken prompt voice.
	VoiceID            string
	VoiceLanguage      string
	VoiceSpeed         float64
	AudioOutFormat     string
	AudioOutSampleRate int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("VOXPREP_ADDR", ":8080"),
		AuthMode:               AuthMode(envOr("VOXPREP_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                make(map[string]struct{}),
		TrustProxyHeaders:      envBoolOr("VOXPREP_TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:     make(map[string]struct{}),
		DatabaseURL:            strings.TrimSpace(os.Getenv("VOXPREP_DATABASE_URL")),
		PersistTimeout:         envDurationOr("VOXPREP_PERSIST_TIMEOUT", 5*time.Second),
		CartesiaAPIKey:         strings.TrimSpace(os.Getenv("VOXPREP_CARTESIA_API_KEY")),
		QuestionGraphPath:      strings.TrimSpace(os.Getenv("VOXPREP_QUESTION_GRAPH")),
		SessionDuration:        envDurationOr("VOXPREP_SESSION_DURATION", 15*time.Minute),
		InactivityThreshold:    envDurationOr("VOXPREP_INACTIVITY_THRESHOLD", 2*time.Minute),
		InactivityResponse:     envDurationOr("VOXPREP_INACTIVITY_RESPONSE", 25*time.Second),
		InactivityPromptLimit:  envIntOr("VOXPREP_INACTIVITY_PROMPT_LIMIT", 1),
		SilenceCommit:          envDurationOr("VOXPREP_SILENCE_COMMIT", 3*time.Second),
		NextQuestionDelay:      envDurationOr("VOXPREP_NEXT_QUESTION_DELAY", 1200*time.Millisecond),
		TimeRemainingInterval:  envDurationOr("VOXPREP_TIME_REMAINING_INTERVAL", time.Second),
		InactivityPoll:         envDurationOr("VOXPREP_INACTIVITY_POLL", 2*time.Second),
		SessionStartsPerMinute: envFloat64Or("VOXPREP_SESSION_STARTS_PER_MINUTE", 0),
		SessionStartBurst:      envIntOr("VOXPREP_SESSION_START_BURST", 3),
		MaxConcurrentSessions:  envIntOr("VOXPREP_MAX_CONCURRENT_SESSIONS", 64),
		MaxAudioFrameBytes:     envIntOr("VOXPREP_MAX_AUDIO_FRAME_BYTES", 8192),
		MaxJSONMessageBytes:    envInt64Or("VOXPREP_MAX_JSON_MESSAGE_BYTES", 64*1024),
		WSPingInterval:         envDurationOr("VOXPREP_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:         envDurationOr("VOXPREP_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:          envDurationOr("VOXPREP_WS_READ_TIMEOUT", 0),
		HandshakeTimeout:       envDurationOr("VOXPREP_HANDSHAKE_TIMEOUT", 5*time.Second),
		OutboundQueueSize:      envIntOr("VOXPREP_OUTBOUND_QUEUE_SIZE", 128),
		VoiceID:                envOr("VOXPREP_VOICE_ID", ""),
		VoiceLanguage:          envOr("VOXPREP_VOICE_LANGUAGE", "en"),
		VoiceSpeed:             envFloat64Or("VOXPREP_VOICE_SPEED", 1.0),
		AudioOutFormat:         envOr("VOXPREP_AUDIO_OUT_FORMAT", "mp3"),
		AudioOutSampleRate:     envIntOr("VOXPREP_AUDIO_OUT_SAMPLE_RATE", 24000),
		ReadHeaderTimeout:      envDurationOr("VOXPREP_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:    envDurationOr("VOXPREP_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VOXPREP_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VOXPREP_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("VOXPREP_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VOXPREP_API_KEYS must be set when VOXPREP_AUTH_MODE=required")
	}
	if cfg.PersistTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_PERSIST_TIMEOUT must be > 0")
	}
	if cfg.SessionDuration <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_SESSION_DURATION must be > 0")
	}
	if cfg.InactivityThreshold <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_INACTIVITY_THRESHOLD must be > 0")
	}
	if cfg.InactivityResponse <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_INACTIVITY_RESPONSE must be > 0")
	}
	if cfg.InactivityPromptLimit <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_INACTIVITY_PROMPT_LIMIT must be > 0")
	}
	if cfg.SilenceCommit <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_SILENCE_COMMIT must be > 0")
	}
	if cfg.NextQuestionDelay <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_NEXT_QUESTION_DELAY must be > 0")
	}
	if cfg.TimeRemainingInterval <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_TIME_REMAINING_INTERVAL must be > 0")
	}
	if cfg.InactivityPoll <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_INACTIVITY_POLL must be > 0")
	}
	if cfg.SessionStartsPerMinute < 0 {
		return Config{}, fmt.Errorf("VOXPREP_SESSION_STARTS_PER_MINUTE must be >= 0")
	}
	if cfg.SessionStartBurst <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_SESSION_START_BURST must be > 0")
	}
	if cfg.MaxConcurrentSessions < 0 {
		return Config{}, fmt.Errorf("VOXPREP_MAX_CONCURRENT_SESSIONS must be >= 0")
	}
	if cfg.MaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VOXPREP_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.VoiceSpeed < 0.6 || cfg.VoiceSpeed > 1.5 {
		return Config{}, fmt.Errorf("VOXPREP_VOICE_SPEED must be between 0.6 and 1.5")
	}
	switch cfg.AudioOutFormat {
	case "mp3", "wav", "pcm":
	default:
		return Config{}, fmt.Errorf("VOXPREP_AUDIO_OUT_FORMAT must be one of mp3|wav|pcm")
	}
	if cfg.AudioOutSampleRate <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_AUDIO_OUT_SAMPLE_RATE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXPREP_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
