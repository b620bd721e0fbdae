package adapter

import (
	"context"

	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
)

// Player plays audio and returns when playback has completed. The device
// backed implementation lives in pkg/adapter/portaudio.
type Player interface {
	Play(ctx context.Context, audio *model.Audio) error
}

// NopPlayer logs instead of playing. It is used when no audio device is
// available so that recognition and caching still run.
type NopPlayer struct{}

var _ Player = NopPlayer{}

func (NopPlayer) Play(ctx context.Context, audio *model.Audio) error {
	logging.From(ctx).Info("playback skipped, no audio device",
		"bytes", len(audio.Data),
		"seconds", audio.Duration())
	return nil
}
