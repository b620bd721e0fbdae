package portaudio

import (
	"context"
	"encoding/binary"
	"sync"

	pa "github.com/gordonklaus/portaudio"
	"github.com/m-mizutani/facegreet/pkg/adapter"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const framesPerBuffer = 1024

// Player plays PCM audio on the default output device
type Player struct {
	mu sync.Mutex
}

var _ adapter.Player = (*Player)(nil)

// New initializes PortAudio. Call Close to release it.
func New() (*Player, error) {
	if err := pa.Initialize(); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize portaudio")
	}
	return &Player{}, nil
}

// Close terminates PortAudio
func (p *Player) Close() error {
	if err := pa.Terminate(); err != nil {
		return goerr.Wrap(err, "failed to terminate portaudio")
	}
	return nil
}

// Play blocks until the whole payload has been written to the device
func (p *Player) Play(ctx context.Context, audio *model.Audio) error {
	if audio == nil || len(audio.Data) == 0 {
		return goerr.New("no audio to play")
	}
	if audio.Format != model.AudioFormatPCM16 {
		return goerr.New("unsupported audio format", goerr.V("format", audio.Format))
	}

	channels := audio.Channels
	if channels <= 0 {
		channels = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]int16, framesPerBuffer*channels)
	stream, err := pa.OpenDefaultStream(0, channels, float64(audio.SampleRate), framesPerBuffer, &buf)
	if err != nil {
		return goerr.Wrap(err, "failed to open output stream",
			goerr.V("sample_rate", audio.SampleRate),
			goerr.V("channels", channels))
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return goerr.Wrap(err, "failed to start output stream")
	}
	defer stream.Stop()

	samples := decodePCM16(audio.Data)
	for offset := 0; offset < len(samples); offset += len(buf) {
		if err := ctx.Err(); err != nil {
			return goerr.Wrap(err, "playback interrupted")
		}

		n := copy(buf, samples[offset:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			return goerr.Wrap(err, "failed to write to output stream")
		}
	}

	return nil
}

func decodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
