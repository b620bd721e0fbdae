package adapter

import (
	"context"

	"github.com/m-mizutani/facegreet/pkg/model"
)

// Synthesizer turns greeting text into playable audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice model.Voice) (*model.Audio, error)
}

// SynthesizerFactory builds a Synthesizer from a credential resolved from
// the settings store at call time.
type SynthesizerFactory func(ctx context.Context, apiKey string) (Synthesizer, error)
