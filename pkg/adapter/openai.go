package adapter

import (
	"context"
	"io"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAIPCMSampleRate = 24000

// OpenAITTS synthesizes speech with the OpenAI audio API
type OpenAITTS struct {
	client    *openai.Client
	model     string
	voiceName string
}

type OpenAIOption func(*OpenAITTS)

func WithOpenAIModel(model string) OpenAIOption {
	return func(o *OpenAITTS) {
		o.model = model
	}
}

func WithOpenAIVoice(name string) OpenAIOption {
	return func(o *OpenAITTS) {
		o.voiceName = name
	}
}

// NewOpenAITTS creates an OpenAI TTS client
func NewOpenAITTS(apiKey string, opts ...OpenAIOption) (*OpenAITTS, error) {
	if apiKey == "" {
		return nil, goerr.New("openai API key is required")
	}

	o := &OpenAITTS{
		model:     openai.SpeechModelGPT4oMiniTTS,
		voiceName: "alloy",
	}
	for _, opt := range opts {
		opt(o)
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	o.client = &client
	return o, nil
}

// Synthesize returns 24kHz mono PCM audio. The language code is passed as a
// speaking instruction since the API has no language parameter.
func (o *OpenAITTS) Synthesize(ctx context.Context, text string, voice model.Voice) (*model.Audio, error) {
	if text == "" {
		return nil, goerr.New("text is empty")
	}

	voiceName := voice.Name
	if voiceName == "" {
		voiceName = o.voiceName
	}

	params := openai.AudioSpeechNewParams{
		Model:          o.model,
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(voiceName),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.LanguageCode != "" {
		params.Instructions = openai.String("Speak warmly in the language " + voice.LanguageCode + ".")
	}

	resp, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate speech", goerr.V("model", o.model))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read speech response", goerr.V("model", o.model))
	}
	if len(data) == 0 {
		return nil, goerr.New("no audio in speech response", goerr.V("model", o.model))
	}

	return &model.Audio{
		Data:       data,
		Format:     model.AudioFormatPCM16,
		SampleRate: openAIPCMSampleRate,
		Channels:   1,
	}, nil
}
