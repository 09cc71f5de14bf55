package session

import (
	"strings"

	"github.com/voxprep/voxprep/pkg/core/voice/stt"
)

// turnController tracks the single in-flight answer capture. Only final
// transcript deltas contribute to the answer; interim deltas exist to re-arm
// the silence debounce and to stream partials to the client.
type turnController struct {
	capture    stt.CaptureSession
	active     bool
	committing bool
	finals     []string
	interim    string
}

func (t *turnController) Active() bool {
	return t.active
}

func (t *turnController) Committing() bool {
	return t.committing
}

func (t *turnController) begin(capture stt.CaptureSession) {
	t.capture = capture
	t.active = true
	t.committing = false
	t.finals = nil
	t.interim = ""
}

func (t *turnController) observe(delta stt.TranscriptDelta) {
	if !t.active {
		return
	}
	text := normalizeSpace(delta.Text)
	if text == "" {
		return
	}
	if delta.IsFinal {
		t.finals = append(t.finals, text)
		t.interim = ""
		return
	}
	t.interim = text
}

// beginCommit asks the engine to flush buffered audio. The commit completes
// when the flushed final delta arrives, or when the delta channel closes.
func (t *turnController) beginCommit() {
	if !t.active || t.committing {
		return
	}
	t.committing = true
	if t.capture != nil {
		_ = t.capture.Finalize()
	}
}

// end closes the capture and returns the accumulated answer. An empty answer
// means the capture produced nothing usable.
func (t *turnController) end() string {
	if t.capture != nil {
		_ = t.capture.Close()
	}
	answer := strings.TrimSpace(strings.Join(t.finals, " "))
	t.reset()
	return answer
}

// abort discards the capture without producing an answer.
func (t *turnController) abort() {
	if t.capture != nil {
		_ = t.capture.Close()
	}
	t.reset()
}

func (t *turnController) reset() {
	t.capture = nil
	t.active = false
	t.committing = false
	t.finals = nil
	t.interim = ""
}

func (t *turnController) deltas() <-chan stt.TranscriptDelta {
	if !t.active || t.capture == nil {
		return nil
	}
	return t.capture.Deltas()
}
