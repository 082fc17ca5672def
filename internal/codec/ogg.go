package codec

import (
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/jfreymuth/oggvorbis"
)

// OggDecoder handles Ogg Vorbis audio format decoding
type OggDecoder struct{}

// NewOggDecoder creates a new Ogg Vorbis decoder instance
func NewOggDecoder() *OggDecoder {
	return &OggDecoder{}
}

// Decode reads Ogg Vorbis audio data from reader and returns decoded PCM data
func (d *OggDecoder) Decode(reader io.Reader) (*AudioData, error) {
	samples, format, err := oggvorbis.ReadAll(reader)
	if err != nil {
		slog.Error("failed to decode Ogg Vorbis data", "error", err)
		return nil, ErrInvalidData
	}

	if format.Channels <= 0 || format.SampleRate <= 0 {
		slog.Error("invalid Ogg Vorbis format parameters",
			"channels", format.Channels,
			"sample_rate", format.SampleRate)
		return nil, ErrInvalidData
	}

	if len(samples) == 0 {
		slog.Error("no audio data found in Ogg Vorbis file")
		return nil, ErrInvalidData
	}

	// Vorbis decodes to interleaved float32; convert to 16-bit signed PCM
	rawBytes := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		v := int16(math.Round(float64(clampFloat32(s)) * math.MaxInt16))
		rawBytes = append(rawBytes, byte(v), byte(v>>8))
	}

	audioData := &AudioData{
		Samples:    rawBytes,
		Channels:   uint32(format.Channels),
		SampleRate: uint32(format.SampleRate),
		Format:     FormatS16,
	}

	slog.Debug("Ogg Vorbis decode completed",
		"total_bytes", len(rawBytes),
		"channels", audioData.Channels,
		"sample_rate", audioData.SampleRate,
		"duration_ms", audioData.Duration().Milliseconds())

	return audioData, nil
}

func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

// CanDecode checks if this decoder can handle the given filename
func (d *OggDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".ogg") || strings.HasSuffix(lower, ".oga")
}

// FormatName returns the name of the format this decoder handles
func (d *OggDecoder) FormatName() string {
	return "ogg"
}
