package model

type AudioFormat string

const (
	// AudioFormatPCM16 is signed 16-bit little-endian PCM
	AudioFormatPCM16 AudioFormat = "pcm_s16le"
)

// Audio is a synthesized greeting payload
type Audio struct {
	Data       []byte
	Format     AudioFormat
	SampleRate int
	Channels   int
}

// Duration returns the playback length in seconds for PCM audio
func (a *Audio) Duration() float64 {
	if a == nil || a.Format != AudioFormatPCM16 || a.SampleRate <= 0 {
		return 0
	}
	channels := a.Channels
	if channels <= 0 {
		channels = 1
	}
	return float64(len(a.Data)) / float64(2*channels*a.SampleRate)
}

// Voice configures the synthesis voice
type Voice struct {
	LanguageCode string `yaml:"language_code"`
	Name         string `yaml:"name"`
}
