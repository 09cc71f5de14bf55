package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"strings"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
)

// Default voice ID; deployments should configure their own.
const defaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

// CartesiaProvider implements Provider against Cartesia's TTS bytes API.
type CartesiaProvider struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewCartesia creates a Cartesia TTS provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return NewCartesiaWithClient(apiKey, nil)
}

// NewCartesiaWithClient creates a Cartesia TTS provider with a custom HTTP
// client.
func NewCartesiaWithClient(apiKey string, client *http.Client) *CartesiaProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &CartesiaProvider{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: client,
		baseURL:    cartesiaBaseURL,
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *CartesiaProvider) WithBaseURL(base string) *CartesiaProvider {
	if strings.TrimSpace(base) != "" {
		c.baseURL = strings.TrimSpace(base)
	}
	return c
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// Synthesize converts one utterance of text to audio.
func (c *CartesiaProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	voiceID := opts.Voice
	if voiceID == "" {
		voiceID = defaultVoiceID
	}

	reqBody := cartesiaTTSRequest{
		ModelID:    "sonic-3",
		Transcript: text,
		Voice: cartesiaVoiceSpec{
			Mode: "id",
			ID:   voiceID,
		},
		OutputFormat: buildOutputFormat(opts),
	}
	if opts.Speed != 0 {
		reqBody.GenerationConfig = &cartesiaGenerationConfig{Speed: opts.Speed}
	}
	if opts.Language != "" {
		reqBody.Language = &opts.Language
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return &Synthesis{Audio: []byte{}, Format: formatName(opts.Format)}, nil
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("cartesia error %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return &Synthesis{Audio: audio, Format: formatName(opts.Format)}, nil
}

type cartesiaTTSRequest struct {
	ModelID          string                    `json:"model_id"`
	Transcript       string                    `json:"transcript"`
	Voice            cartesiaVoiceSpec         `json:"voice"`
	OutputFormat     cartesiaOutputFormat      `json:"output_format"`
	GenerationConfig *cartesiaGenerationConfig `json:"generation_config,omitempty"`
	Language         *string                   `json:"language,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed float64 `json:"speed,omitempty"`
}

func buildOutputFormat(opts SynthesizeOptions) cartesiaOutputFormat {
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 24000
	}
	switch formatName(opts.Format) {
	case "mp3":
		return cartesiaOutputFormat{Container: "mp3", SampleRate: sampleRate, BitRate: 128000}
	case "wav":
		return cartesiaOutputFormat{Container: "wav", Encoding: "pcm_s16le", SampleRate: sampleRate}
	default:
		return cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: sampleRate}
	}
}

func formatName(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "mp3":
		return "mp3"
	case "wav":
		return "wav"
	default:
		return "pcm"
	}
}
