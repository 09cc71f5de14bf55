// Package protocol defines the JSON frames exchanged on the interview
// websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxprep/voxprep/pkg/core/types"
)

const ProtocolVersion1 = "1"

// Control operations a client may send.
const (
	OpAnswer       = "answer"
	OpStopAnswer   = "stop_answer"
	OpReadQuestion = "read_question"
	OpFinish       = "finish"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes the negotiated inbound audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type HelloAuth struct {
	GatewayAPIKey string `json:"gateway_api_key,omitempty"`
}

type HelloVoice struct {
	VoiceID  string  `json:"voice_id,omitempty"`
	Language string  `json:"language,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

type HelloFeatures struct {
	WantPartialTranscripts bool `json:"want_partial_transcripts,omitempty"`
	WantPromptAudio        bool `json:"want_prompt_audio,omitempty"`
}

// ClientHello opens a session. AudioIn is optional: a hello without it starts
// a text-only session where answers arrive as text_answer frames.
type ClientHello struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Client          HelloClient   `json:"client,omitempty"`
	Auth            *HelloAuth    `json:"auth,omitempty"`
	UserID          string        `json:"user_id,omitempty"`
	AudioIn         *AudioFormat  `json:"audio_in,omitempty"`
	Voice           *HelloVoice   `json:"voice,omitempty"`
	Features        HelloFeatures `json:"features,omitempty"`
}

// RedactedForLog returns the hello stripped of credentials for access logs.
func (h ClientHello) RedactedForLog() map[string]any {
	return map[string]any{
		"type":             h.Type,
		"protocol_version": h.ProtocolVersion,
		"has_user_id":      strings.TrimSpace(h.UserID) != "",
		"has_gateway_key":  h.Auth != nil && strings.TrimSpace(h.Auth.GatewayAPIKey) != "",
		"has_audio_in":     h.AudioIn != nil,
		"features":         h.Features,
	}
}

type ClientAudioFrame struct {
	Type        string `json:"type"`
	Seq         int64  `json:"seq,omitempty"`
	TimestampMS *int64 `json:"timestamp_ms,omitempty"`
	DataB64     string `json:"data_b64"`
}

// ClientTextAnswer is the manual text-equivalent of a spoken answer, used
// when the capture capability is unavailable.
type ClientTextAnswer struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// DecodeClientMessage strictly decodes one client frame.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio_frame":
		var msg ClientAudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "text_answer":
		var msg ClientTextAnswer
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text_answer", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text_answer.text is required", "text")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case OpAnswer, OpStopAnswer, OpReadQuestion, OpFinish:
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateHello checks the opening frame.
func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if msg.AudioIn != nil {
		if strings.TrimSpace(msg.AudioIn.Encoding) == "" {
			return badRequest("hello.audio_in.encoding is required", "audio_in.encoding")
		}
		if msg.AudioIn.SampleRateHz <= 0 {
			return badRequest("hello.audio_in.sample_rate_hz must be > 0", "audio_in.sample_rate_hz")
		}
		if msg.AudioIn.Channels <= 0 {
			return badRequest("hello.audio_in.channels must be > 0", "audio_in.channels")
		}
	}
	return nil
}

// Limits advertises the session's timing policy to the client.
type Limits struct {
	SessionMS             int64 `json:"session_ms"`
	InactivityThresholdMS int64 `json:"inactivity_threshold_ms"`
	InactivityResponseMS  int64 `json:"inactivity_response_ms"`
	SilenceCommitMS       int64 `json:"silence_commit_ms"`
	NextQuestionDelayMS   int64 `json:"next_question_delay_ms"`
	MaxAudioFrameBytes    int   `json:"max_audio_frame_bytes,omitempty"`
}

type ServerHelloAck struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Question        ServerQuestion `json:"question"`
	Limits          Limits         `json:"limits"`
}

// ServerQuestion presents the current prompt.
type ServerQuestion struct {
	Type        string `json:"type"`
	NodeID      string `json:"node_id"`
	Prompt      string `json:"prompt"`
	Index       int    `json:"index"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// ServerListening reports capture state changes.
type ServerListening struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

type ServerTranscriptDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	IsFinal     bool   `json:"is_final"`
	TimestampMS int64  `json:"timestamp_ms"`
}

type ServerTurnRecorded struct {
	Type string     `json:"type"`
	Turn types.Turn `json:"turn"`
}

type ServerTimeRemaining struct {
	Type        string `json:"type"`
	RemainingMS int64  `json:"remaining_ms"`
}

type ServerInactivityWarning struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServerAudioOut carries synthesized prompt speech.
type ServerAudioOut struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id"`
	DataB64     string `json:"data_b64"`
	Final       bool   `json:"final"`
}

type ServerSessionFinished struct {
	Type   string               `json:"type"`
	Reason types.FinishReason   `json:"reason"`
	Report types.FeedbackReport `json:"report"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ServerError struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Close   bool           `json:"close,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
