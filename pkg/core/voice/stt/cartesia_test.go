package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeSTTServer upgrades the connection and echoes a transcript for every
// binary frame, plus a final transcript when it sees a "finalize" command.
func fakeSTTServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stt/websocket" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("model") == "" {
			http.Error(w, "missing model", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frames := 0
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch messageType {
			case websocket.BinaryMessage:
				frames++
				payload, _ := json.Marshal(cartesiaSTTMessage{Type: "transcript", Text: "partial", IsFinal: false})
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case websocket.TextMessage:
				switch string(data) {
				case "finalize":
					payload, _ := json.Marshal(cartesiaSTTMessage{Type: "transcript", Text: "hello world", IsFinal: true})
					if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
					ack, _ := json.Marshal(cartesiaSTTMessage{Type: "flush_done"})
					if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
						return
					}
				case "done":
					payload, _ := json.Marshal(cartesiaSTTMessage{Type: "done"})
					_ = conn.WriteMessage(websocket.TextMessage, payload)
					return
				}
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCartesiaCapture_StreamsDeltas(t *testing.T) {
	srv := fakeSTTServer(t)
	defer srv.Close()

	p := NewCartesia("test-key").WithWSBaseURL(wsURL(srv))
	if p.Name() != "cartesia" {
		t.Fatalf("name=%q, want cartesia", p.Name())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	capture, err := p.NewCapture(ctx, CaptureConfig{})
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	defer capture.Close()

	if err := capture.SendAudio([]byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	select {
	case delta := <-capture.Deltas():
		if delta.IsFinal {
			t.Fatalf("first delta should be interim: %+v", delta)
		}
		if delta.Text != "partial" {
			t.Fatalf("delta text=%q", delta.Text)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for interim delta")
	}

	if err := capture.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	select {
	case delta := <-capture.Deltas():
		if !delta.IsFinal {
			t.Fatalf("expected final delta, got %+v", delta)
		}
		if delta.Text != "hello world" {
			t.Fatalf("final text=%q", delta.Text)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for final delta")
	}
}

func TestCartesiaCapture_CloseIsIdempotentAndEndsDeltas(t *testing.T) {
	srv := fakeSTTServer(t)
	defer srv.Close()

	p := NewCartesia("test-key").WithWSBaseURL(wsURL(srv))
	capture, err := p.NewCapture(context.Background(), CaptureConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}

	if err := capture.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := capture.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// The deltas channel must drain and close after Close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-capture.Deltas():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("deltas channel did not close")
		}
	}
}

func TestCartesiaCapture_SendAfterCloseFails(t *testing.T) {
	srv := fakeSTTServer(t)
	defer srv.Close()

	p := NewCartesia("test-key").WithWSBaseURL(wsURL(srv))
	capture, err := p.NewCapture(context.Background(), CaptureConfig{})
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	_ = capture.Close()
	if err := capture.SendAudio([]byte{1}); err == nil {
		t.Fatal("expected error sending on closed capture")
	}
	if err := capture.Finalize(); err == nil {
		t.Fatal("expected error finalizing closed capture")
	}
}

func TestNewCapture_DialFailure(t *testing.T) {
	p := NewCartesia("test-key").WithWSBaseURL("ws://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.NewCapture(ctx, CaptureConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}
