package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeWS struct {
	mu       sync.Mutex
	messages []string
	controls []int
	closed   bool
}

func (f *fakeWS) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWS) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.TextMessage {
		f.messages = append(f.messages, string(data))
	}
	return nil
}

func (f *fakeWS) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeWS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWS) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func TestOutboundWriter_DrainsAndExitsOnClose(t *testing.T) {
	ws := &fakeWS{}
	priority := make(chan outboundFrame, 4)
	normal := make(chan outboundFrame, 4)

	normal <- outboundFrame{payload: []byte(`{"type":"question"}`)}
	normal <- outboundFrame{payload: []byte(`{"type":"listening"}`)}
	close(priority)
	close(normal)

	w := outboundWriter{ws: ws, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("writer: %v", err)
	}

	got := ws.snapshot()
	if len(got) != 2 {
		t.Fatalf("messages=%d, want 2: %v", len(got), got)
	}
	if !strings.Contains(got[0], "question") || !strings.Contains(got[1], "listening") {
		t.Fatalf("messages out of order: %v", got)
	}
}

func TestOutboundWriter_PriorityPreemptsPendingNormal(t *testing.T) {
	ws := &fakeWS{}
	priority := make(chan outboundFrame, 4)
	normal := make(chan outboundFrame, 4)

	priority <- outboundFrame{payload: []byte(`{"type":"session_finished"}`)}
	normal <- outboundFrame{payload: []byte(`{"type":"time_remaining"}`)}
	close(priority)
	close(normal)

	w := outboundWriter{ws: ws, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("writer: %v", err)
	}

	got := ws.snapshot()
	if len(got) != 2 {
		t.Fatalf("messages=%d, want 2: %v", len(got), got)
	}
	if !strings.Contains(got[0], "session_finished") {
		t.Fatalf("priority frame not written first: %v", got)
	}
}

func TestOutboundWriter_DropsCanceledPromptAudio(t *testing.T) {
	ws := &fakeWS{}
	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame, 4)

	normal <- outboundFrame{isPromptAudio: true, utteranceID: "u_1", payload: []byte(`{"type":"audio_out","utterance_id":"u_1"}`)}
	normal <- outboundFrame{isPromptAudio: true, utteranceID: "u_2", payload: []byte(`{"type":"audio_out","utterance_id":"u_2"}`)}
	close(priority)
	close(normal)

	w := outboundWriter{
		ws:         ws,
		priority:   priority,
		normal:     normal,
		isCanceled: func(id string) bool { return id == "u_1" },
	}
	if err := w.Run(); err != nil {
		t.Fatalf("writer: %v", err)
	}

	got := ws.snapshot()
	if len(got) != 1 || !strings.Contains(got[0], "u_2") {
		t.Fatalf("messages=%v, want only u_2", got)
	}
}

func TestOutboundWriter_ContextCancelFlushesPriorityAndCloses(t *testing.T) {
	ws := &fakeWS{}
	ctx, cancel := context.WithCancel(context.Background())
	priority := make(chan outboundFrame, 4)
	normal := make(chan outboundFrame, 4)

	priority <- outboundFrame{payload: []byte(`{"type":"session_finished"}`)}
	cancel()

	w := outboundWriter{ws: ws, ctx: ctx, priority: priority, normal: normal}
	if err := w.Run(); err != nil {
		t.Fatalf("writer: %v", err)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if !ws.closed {
		t.Fatal("websocket not closed on shutdown")
	}
	if len(ws.messages) != 1 || !strings.Contains(ws.messages[0], "session_finished") {
		t.Fatalf("priority frame not flushed on shutdown: %v", ws.messages)
	}
}
