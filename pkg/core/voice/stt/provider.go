// Package stt provides the speech-to-text capture capability consumed by the
// interview session.
package stt

import (
	"context"
	"errors"
)

// ErrUnavailable indicates that no speech-to-text capability is configured in
// this process. Callers surface it without starting a capture; the session
// itself continues.
var ErrUnavailable = errors.New("speech-to-text capability unavailable")

// TranscriptDelta is one incremental transcript update. Final deltas arrive
// in capture order; no other ordering may be assumed.
type TranscriptDelta struct {
	Text    string
	IsFinal bool
}

// CaptureConfig configures one capture session.
type CaptureConfig struct {
	Model      string // provider-specific model (default: "ink-whisper")
	Language   string // ISO language code (default: "en")
	Encoding   string // audio encoding (default: "pcm_s16le")
	SampleRate int    // audio sample rate in Hz (default: 16000)
}

// CaptureSession is one live "listen for an answer" operation. Deltas closes
// when the engine ends the capture; a close without any final delta means the
// capture produced nothing.
type CaptureSession interface {
	// SendAudio forwards one audio frame to the engine.
	SendAudio(data []byte) error

	// Finalize asks the engine to flush any buffered audio into a final delta.
	Finalize() error

	// Deltas emits transcript updates until the capture ends.
	Deltas() <-chan TranscriptDelta

	Close() error
}

// Provider opens capture sessions against a speech-to-text engine.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewCapture opens a streaming capture session.
	NewCapture(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}
