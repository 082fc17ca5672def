package codec

import (
	"errors"
	"io"
	"time"
)

// Common decoder errors
var (
	ErrInvalidData       = errors.New("invalid audio data")
	ErrReadFailure       = errors.New("failed to read audio data")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// SampleFormat identifies the PCM sample encoding of decoded audio
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	FormatS16
	FormatS24
	FormatS32
)

// BytesPerSample returns the byte width of a single sample in this format
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatS32:
		return 4
	default:
		return 2
	}
}

func (f SampleFormat) String() string {
	switch f {
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	default:
		return "unknown"
	}
}

// AudioData represents decoded audio ready for playback
type AudioData struct {
	Samples    []byte       // Raw interleaved PCM data
	Channels   uint32       // Number of audio channels
	SampleRate uint32       // Sample rate in Hz
	Format     SampleFormat // PCM sample encoding
}

// Frames returns the number of sample frames in the decoded data
func (a *AudioData) Frames() int {
	if a.Channels == 0 {
		return 0
	}
	return len(a.Samples) / int(a.Channels) / a.Format.BytesPerSample()
}

// Duration returns the playback duration of the decoded data
func (a *AudioData) Duration() time.Duration {
	if a.SampleRate == 0 {
		return 0
	}
	return time.Duration(a.Frames()) * time.Second / time.Duration(a.SampleRate)
}

// Decoder interface for audio format decoding
type Decoder interface {
	// Decode reads audio data from reader and returns decoded PCM data
	Decode(reader io.Reader) (*AudioData, error)

	// CanDecode checks if this decoder can handle the given filename
	CanDecode(filename string) bool

	// FormatName returns the name of the format this decoder handles
	FormatName() string
}
