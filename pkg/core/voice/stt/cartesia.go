package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaWSBaseURL = "wss://api.cartesia.ai"
	cartesiaVersion   = "2025-04-16"
)

// CartesiaProvider implements Provider against Cartesia's streaming STT
// WebSocket API.
type CartesiaProvider struct {
	apiKey    string
	wsBaseURL string
}

// NewCartesia creates a Cartesia capture provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{
		apiKey:    apiKey,
		wsBaseURL: cartesiaWSBaseURL,
	}
}

// WithWSBaseURL overrides the WebSocket endpoint. Used by tests.
func (c *CartesiaProvider) WithWSBaseURL(base string) *CartesiaProvider {
	if base != "" {
		c.wsBaseURL = base
	}
	return c
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// NewCapture opens a streaming capture session. Audio is sent incrementally
// via SendAudio and transcript deltas are received via Deltas.
func (c *CartesiaProvider) NewCapture(ctx context.Context, cfg CaptureConfig) (CaptureSession, error) {
	u, err := url.Parse(c.wsBaseURL + "/stt/websocket")
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "ink-whisper"
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", language)
	q.Set("encoding", encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	// Silence handling is the session's job; keep the engine streaming interim
	// transcripts continuously. min_volume only filters background noise.
	q.Set("min_volume", "0.01")
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &cartesiaCapture{
		conn:   conn,
		deltas: make(chan TranscriptDelta, 100),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.readLoop()
	return s, nil
}

type cartesiaCapture struct {
	conn    *websocket.Conn
	deltas  chan TranscriptDelta
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *cartesiaCapture) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("capture session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

func (s *cartesiaCapture) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("capture session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte("finalize")); err != nil {
		return fmt.Errorf("finalize capture: %w", err)
	}
	return nil
}

func (s *cartesiaCapture) Deltas() <-chan TranscriptDelta {
	return s.deltas
}

func (s *cartesiaCapture) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	s.writeMu.Unlock()
	s.cancel()
	err := s.conn.Close()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
	}
	return err
}

func (s *cartesiaCapture) readLoop() {
	defer func() {
		close(s.deltas)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg cartesiaSTTMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			select {
			case s.deltas <- TranscriptDelta{Text: msg.Text, IsFinal: msg.IsFinal}:
			case <-s.ctx.Done():
				return
			}
		case "flush_done":
			// Acknowledgment of a finalize command.
			continue
		case "done", "error":
			return
		}
	}
}

type cartesiaSTTMessage struct {
	Type      string `json:"type"` // "transcript", "flush_done", "done", "error"
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"`
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}
