package codec

import (
	"bytes"
	"io"
	"log/slog"
	"strings"

	"github.com/youpy/go-wav"
)

// WavDecoder handles WAV audio format decoding
type WavDecoder struct{}

// NewWavDecoder creates a new WAV decoder instance
func NewWavDecoder() *WavDecoder {
	return &WavDecoder{}
}

// Decode reads WAV audio data from reader and returns decoded PCM data.
// The RIFF reader panics on truncated headers rather than returning an
// error, so the panic is recovered and surfaced as invalid data.
func (d *WavDecoder) Decode(reader io.Reader) (audioData *AudioData, decodeErr error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("WAV decoder panicked on malformed input", "panic", r)
			audioData = nil
			decodeErr = ErrInvalidData
		}
	}()
	// youpy/go-wav needs a ReadSeeker, so buffer the whole input
	data, err := io.ReadAll(reader)
	if err != nil {
		slog.Error("failed to read WAV data", "error", err)
		return nil, ErrReadFailure
	}

	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	wavReader := wav.NewReader(bytes.NewReader(data))

	format, err := wavReader.Format()
	if err != nil {
		slog.Error("failed to read WAV format", "error", err)
		return nil, ErrInvalidData
	}

	if format.NumChannels == 0 || format.SampleRate == 0 {
		slog.Error("invalid WAV format parameters",
			"channels", format.NumChannels,
			"sample_rate", format.SampleRate)
		return nil, ErrInvalidData
	}

	var sampleFormat SampleFormat
	switch format.BitsPerSample {
	case 16:
		sampleFormat = FormatS16
	case 24:
		sampleFormat = FormatS24
	case 32:
		sampleFormat = FormatS32
	default:
		slog.Error("unsupported WAV bit depth", "bits", format.BitsPerSample)
		return nil, ErrUnsupportedFormat
	}

	var allSamples []wav.Sample
	for {
		samples, err := wavReader.ReadSamples()
		if err != nil {
			if err == io.EOF {
				break
			}
			slog.Error("failed to read WAV samples", "error", err)
			return nil, ErrReadFailure
		}
		if len(samples) == 0 {
			break
		}
		allSamples = append(allSamples, samples...)
	}

	if len(allSamples) == 0 {
		slog.Error("no audio data found in WAV file")
		return nil, ErrInvalidData
	}

	// Re-interleave channel values into little-endian PCM bytes
	rawBytes := make([]byte, 0, len(allSamples)*int(format.NumChannels)*sampleFormat.BytesPerSample())
	for _, sample := range allSamples {
		for ch := 0; ch < int(format.NumChannels); ch++ {
			var val int
			if ch < len(sample.Values) {
				val = sample.Values[ch]
			}

			switch format.BitsPerSample {
			case 16:
				rawBytes = append(rawBytes, byte(val), byte(val>>8))
			case 24:
				rawBytes = append(rawBytes, byte(val), byte(val>>8), byte(val>>16))
			case 32:
				rawBytes = append(rawBytes, byte(val), byte(val>>8), byte(val>>16), byte(val>>24))
			}
		}
	}

	audioData = &AudioData{
		Samples:    rawBytes,
		Channels:   uint32(format.NumChannels),
		SampleRate: format.SampleRate,
		Format:     sampleFormat,
	}

	slog.Debug("WAV decode completed",
		"total_bytes", len(rawBytes),
		"channels", audioData.Channels,
		"sample_rate", audioData.SampleRate,
		"format", sampleFormat,
		"duration_ms", audioData.Duration().Milliseconds())

	return audioData, nil
}

// CanDecode checks if this decoder can handle the given filename
func (d *WavDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".wav") || strings.HasSuffix(lower, ".wave")
}

// FormatName returns the name of the format this decoder handles
func (d *WavDecoder) FormatName() string {
	return "wav"
}
