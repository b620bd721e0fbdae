package adapter

import (
	"context"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const (
	geminiTTSSampleRate = 24000
	defaultGeminiVoice  = "Kore"
)

// GeminiTTS synthesizes speech with a Gemini TTS model
type GeminiTTS struct {
	client    *genai.Client
	model     string
	voiceName string
}

type GeminiOption func(*GeminiTTS)

// WithTTSModel overrides the Gemini TTS model
func WithTTSModel(model string) GeminiOption {
	return func(g *GeminiTTS) {
		g.model = model
	}
}

// WithGeminiVoice sets the prebuilt voice used when the request has no voice name
func WithGeminiVoice(name string) GeminiOption {
	return func(g *GeminiTTS) {
		g.voiceName = name
	}
}

// NewGeminiTTS creates a Gemini TTS client on the Gemini API backend
func NewGeminiTTS(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiTTS, error) {
	g := &GeminiTTS{
		model:     "gemini-2.5-flash-preview-tts",
		voiceName: defaultGeminiVoice,
	}
	for _, opt := range opts {
		opt(g)
	}

	if apiKey == "" {
		return nil, goerr.New("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	g.client = client

	return g, nil
}

// Synthesize returns 24kHz mono PCM audio
func (g *GeminiTTS) Synthesize(ctx context.Context, text string, voice model.Voice) (*model.Audio, error) {
	if text == "" {
		return nil, goerr.New("text is empty")
	}

	voiceName := voice.Name
	if voiceName == "" {
		voiceName = g.voiceName
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: voice.LanguageCode,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: voiceName,
				},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(text), config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate speech",
			goerr.V("model", g.model),
			goerr.V("language", voice.LanguageCode))
	}

	if resp == nil ||
		len(resp.Candidates) == 0 ||
		resp.Candidates[0].Content == nil {
		return nil, goerr.New("empty speech response", goerr.V("model", g.model))
	}

	var data []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil {
			data = append(data, part.InlineData.Data...)
		}
	}
	if len(data) == 0 {
		return nil, goerr.New("no audio in speech response", goerr.V("model", g.model))
	}

	return &model.Audio{
		Data:       data,
		Format:     model.AudioFormatPCM16,
		SampleRate: geminiTTSSampleRate,
		Channels:   1,
	}, nil
}
