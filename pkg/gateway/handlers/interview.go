package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/voxprep/voxprep/pkg/core/graph"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/gateway/apierror"
	"github.com/voxprep/voxprep/pkg/gateway/auth"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/lifecycle"
	"github.com/voxprep/voxprep/pkg/gateway/live/protocol"
	"github.com/voxprep/voxprep/pkg/gateway/live/session"
	"github.com/voxprep/voxprep/pkg/gateway/live/sessions"
	"github.com/voxprep/voxprep/pkg/gateway/metrics"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
	"github.com/voxprep/voxprep/pkg/gateway/ratelimit"
	"github.com/voxprep/voxprep/pkg/gateway/store"
)

// InterviewHandler handles /v1/interview websocket sessions.
type InterviewHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Graph     *graph.Graph
	Store     store.Store             // nil disables persistence
	STT       session.CaptureProvider // nil disables speech capture
	TTS       session.SpeechProvider  // nil disables prompt audio
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Metrics   *metrics.Metrics

	Now func() time.Time
}

func (h InterviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		apierror.WriteJSON(w, http.StatusMethodNotAllowed, &apierror.Error{
			Type: apierror.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID,
		})
		return
	}
	if h.Lifecycle.IsDraining() {
		apierror.WriteJSON(w, http.StatusServiceUnavailable, &apierror.Error{
			Type: apierror.ErrOverloaded, Message: "gateway is draining", Code: "draining", RequestID: reqID,
		})
		return
	}
	if !h.originAllowed(r) {
		apierror.WriteJSON(w, http.StatusForbidden, &apierror.Error{
			Type: apierror.ErrPermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID,
		})
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", nil)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		h.writeWSError(conn, "bad_request", err.Error(), nil)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}
	if strings.TrimSpace(hello.ProtocolVersion) != protocol.ProtocolVersion1 {
		h.writeWSError(conn, "unsupported_version", "unsupported protocol_version", nil)
		return
	}
	if hello.AudioIn != nil {
		if strings.TrimSpace(hello.AudioIn.Encoding) != "pcm_s16le" || hello.AudioIn.SampleRateHz != 16000 || hello.AudioIn.Channels != 1 {
			h.writeWSError(conn, "unsupported", "audio_in must be pcm_s16le @16000Hz mono", nil)
			return
		}
	}

	apiKey := h.resolveGatewayKey(r, hello)
	principalKey, authErr := h.resolvePrincipal(apiKey)
	if authErr != nil {
		h.writeWSError(conn, "unauthorized", authErr.Error(), nil)
		return
	}

	now := h.Now
	if now == nil {
		now = time.Now
	}

	var permit *ratelimit.Permit
	if h.Limiter != nil {
		dec := h.Limiter.AcquireSession(principalKey, now())
		if !dec.Allowed {
			h.Metrics.RecordRateLimitHit("session_start")
			h.writeWSError(conn, "rate_limited", "too many interview sessions", map[string]any{"retry_after_s": dec.RetryAfter})
			return
		}
		permit = dec.Permit
		defer permit.Release()
	}

	sessionID := "s_" + strings.ToLower(ulid.Make().String())
	startAt := now()

	startNode := h.Graph.Start()
	startPrompt, err := h.Graph.Prompt(startNode)
	if err != nil {
		h.writeWSError(conn, "internal", "question graph has no start node", nil)
		return
	}

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		Graph:     h.Graph,
		STT:       h.STT,
		TTS:       h.TTS,
		Store:     h.Store,
		Hello:     hello,
		SessionID: sessionID,
		UserID:    hello.UserID,
		RequestID: reqID,
		StartTime: startAt,
		Now:       now,
		Config: session.Config{
			MaxJSONMessageBytes:   h.Config.MaxJSONMessageBytes,
			MaxAudioFrameBytes:    h.Config.MaxAudioFrameBytes,
			SessionDuration:       h.Config.SessionDuration,
			InactivityThreshold:   h.Config.InactivityThreshold,
			InactivityResponse:    h.Config.InactivityResponse,
			InactivityPromptLimit: h.Config.InactivityPromptLimit,
			InactivityPoll:        h.Config.InactivityPoll,
			SilenceCommit:         h.Config.SilenceCommit,
			NextQuestionDelay:     h.Config.NextQuestionDelay,
			TimeRemainingInterval: h.Config.TimeRemainingInterval,
			PingInterval:          h.Config.WSPingInterval,
			WriteTimeout:          h.Config.WSWriteTimeout,
			ReadTimeout:           h.Config.WSReadTimeout,
			OutboundQueueSize:     h.Config.OutboundQueueSize,
			VoiceID:               h.Config.VoiceID,
			Language:              h.Config.VoiceLanguage,
			SpeechSpeed:           h.Config.VoiceSpeed,
			AudioOutFormat:        h.Config.AudioOutFormat,
			AudioOutSampleRate:    h.Config.AudioOutSampleRate,
			PersistTimeout:        h.Config.PersistTimeout,
		},
		OnFinish: func(reason types.FinishReason, duration time.Duration, turns int) {
			h.Metrics.RecordSessionEnd(string(reason), duration)
		},
		OnTurn: h.Metrics.RecordTurn,
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize interview session", nil)
		return
	}

	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		Question: protocol.ServerQuestion{
			Type:        "question",
			NodeID:      startNode,
			Prompt:      startPrompt,
			Index:       1,
			TimestampMS: 0,
		},
		Limits: s.Limits(),
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	h.Metrics.RecordSessionStart()

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(sessionID, sessions.Handle{
			Cancel: s.Cancel,
			Warn:   s.SendWarning,
		})
	}
	defer unregister()

	if h.Logger != nil {
		h.Logger.Info("interview session started",
			"session_id", sessionID,
			"request_id", reqID,
			"hello", hello.RedactedForLog())
	}
	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("interview session ended with error", "session_id", sessionID, "request_id", reqID, "error", err)
		}
	}
}

func (h InterviewHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// resolveGatewayKey prefers the hello frame's credential over the query
// parameter fallback for clients that can set neither headers nor a body
// before the upgrade.
func (h InterviewHandler) resolveGatewayKey(r *http.Request, hello protocol.ClientHello) string {
	if hello.Auth != nil && strings.TrimSpace(hello.Auth.GatewayAPIKey) != "" {
		return strings.TrimSpace(hello.Auth.GatewayAPIKey)
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}

func (h InterviewHandler) resolvePrincipal(apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	switch h.Config.AuthMode {
	case config.AuthModeRequired:
		if apiKey == "" {
			return "", fmt.Errorf("missing gateway api key")
		}
		if _, ok := h.Config.APIKeys[apiKey]; !ok {
			return "", fmt.Errorf("invalid gateway api key")
		}
		return ratelimit.PrincipalKeyFromAPIKey(apiKey), nil
	case config.AuthModeOptional:
		if apiKey != "" {
			if _, ok := h.Config.APIKeys[apiKey]; !ok {
				return "", fmt.Errorf("invalid gateway api key")
			}
			return ratelimit.PrincipalKeyFromAPIKey(apiKey), nil
		}
		return auth.AnonymousKey, nil
	case config.AuthModeDisabled:
		return auth.AnonymousKey, nil
	default:
		return "", fmt.Errorf("invalid auth mode")
	}
}

func (h InterviewHandler) writeWSError(conn *websocket.Conn, code, message string, details map[string]any) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true, Details: details})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}
