// Package tts provides the text-to-speech capability consumed by the
// interview session. Speech output is best-effort: failures are logged by the
// caller and never affect session progression.
package tts

import "context"

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string  // voice identifier
	Speed      float64 // speed multiplier (0.6-1.5, default 1.0)
	Language   string  // language code
	Format     string  // output format: "wav", "mp3", or "pcm"
	SampleRate int     // sample rate in Hz
}

// Synthesis is the result of one utterance.
type Synthesis struct {
	Audio  []byte
	Format string
}

// Provider converts text to audio.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts one utterance of text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}
