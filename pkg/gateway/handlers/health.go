package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voxprep/voxprep/pkg/core/graph"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Graph     *graph.Graph
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                 bool     `json:"ok"`
		AuthMode           string   `json:"auth_mode"`
		PersistenceEnabled bool     `json:"persistence_enabled"`
		VoiceEnabled       bool     `json:"voice_enabled"`
		Questions          int      `json:"questions"`
		Draining           bool     `json:"draining,omitempty"`
		Issues             []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}

	if h.Graph == nil || h.Graph.Len() == 0 {
		issues = append(issues, "question graph is empty")
	}

	if h.Config.SessionDuration <= 0 {
		issues = append(issues, "session duration must be > 0")
	}
	if h.Config.InactivityThreshold <= 0 || h.Config.InactivityResponse <= 0 {
		issues = append(issues, "inactivity thresholds must be > 0")
	}
	if h.Config.SilenceCommit <= 0 {
		issues = append(issues, "silence commit must be > 0")
	}
	if h.Config.NextQuestionDelay <= 0 {
		issues = append(issues, "next question delay must be > 0")
	}
	if h.Config.MaxAudioFrameBytes <= 0 || h.Config.MaxJSONMessageBytes <= 0 {
		issues = append(issues, "frame size limits must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.HandshakeTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	questions := 0
	if h.Graph != nil {
		questions = h.Graph.Len()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:                 ok,
		AuthMode:           string(h.Config.AuthMode),
		PersistenceEnabled: h.Config.DatabaseURL != "",
		VoiceEnabled:       h.Config.CartesiaAPIKey != "",
		Questions:          questions,
		Draining:           draining,
		Issues:             issues,
	})
}
