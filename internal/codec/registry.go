package codec

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Registry manages audio format decoders and provides format detection
type Registry struct {
	decoders []Decoder
}

// NewRegistry creates a new empty decoder registry
func NewRegistry() *Registry {
	slog.Debug("creating new decoder registry")
	return &Registry{
		decoders: make([]Decoder, 0),
	}
}

// NewDefaultRegistry creates a registry with the decoders the engine ships:
// MP3, OGG, WAV and AIFF, in manifest preference order
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()

	registry.Register(NewMp3Decoder())
	registry.Register(NewOggDecoder())
	registry.Register(NewWavDecoder())
	registry.Register(NewAiffDecoder())

	slog.Info("default decoder registry initialized",
		"supported_formats", registry.SupportedFormats())

	return registry
}

// Register adds a decoder to the registry
func (r *Registry) Register(decoder Decoder) {
	if decoder == nil {
		slog.Warn("attempted to register nil decoder")
		return
	}

	r.decoders = append(r.decoders, decoder)

	slog.Debug("decoder registered",
		"format", decoder.FormatName(),
		"total_decoders", len(r.decoders))
}

// Decoders returns all registered decoders
func (r *Registry) Decoders() []Decoder {
	return r.decoders
}

// SupportedFormats returns a list of all supported format names
func (r *Registry) SupportedFormats() []string {
	formats := make([]string, 0, len(r.decoders))
	for _, decoder := range r.decoders {
		formats = append(formats, decoder.FormatName())
	}
	return formats
}

// Supports reports whether a decoder is registered for the named format.
// The name is matched case-insensitively against decoder format names.
func (r *Registry) Supports(formatName string) bool {
	return r.findDecoderByFormat(formatName) != nil
}

// DetectFormat detects the appropriate decoder based on filename extension only
func (r *Registry) DetectFormat(filename string) Decoder {
	if filename == "" {
		return nil
	}

	// First registered decoder wins
	for _, decoder := range r.decoders {
		if decoder.CanDecode(filename) {
			slog.Debug("format detected by extension",
				"filename", filename,
				"format", decoder.FormatName())
			return decoder
		}
	}

	slog.Debug("no decoder found for filename", "filename", filename)
	return nil
}

// DetectFormatWithContent detects format using magic bytes first, falling
// back to the filename extension when sniffing is inconclusive
func (r *Registry) DetectFormatWithContent(filename string, reader io.Reader) Decoder {
	buffer := make([]byte, 512)
	n, err := reader.Read(buffer)
	if err != nil && err != io.EOF {
		slog.Error("failed to read header for magic detection", "error", err)
		return r.DetectFormat(filename)
	}

	if n == 0 {
		slog.Debug("empty content, using extension fallback", "filename", filename)
		return r.DetectFormat(filename)
	}

	mtype := mimetype.Detect(buffer[:n])
	mimeStr := strings.ToLower(mtype.String())

	slog.Debug("magic byte detection result",
		"filename", filename,
		"detected_mime", mimeStr,
		"bytes_analyzed", n)

	var formatDecoder Decoder
	switch {
	case strings.Contains(mimeStr, "wav") || mimeStr == "audio/vnd.wave":
		formatDecoder = r.findDecoderByFormat("wav")

	case strings.Contains(mimeStr, "mpeg") || strings.Contains(mimeStr, "mp3"):
		formatDecoder = r.findDecoderByFormat("mp3")

	case strings.Contains(mimeStr, "ogg"):
		formatDecoder = r.findDecoderByFormat("ogg")

	case strings.Contains(mimeStr, "aiff"):
		formatDecoder = r.findDecoderByFormat("aiff")

	default:
		slog.Debug("unrecognized magic bytes", "mime_type", mimeStr)
	}

	// Magic detection takes precedence over extension
	if formatDecoder != nil {
		slog.Debug("format detected by magic bytes",
			"filename", filename,
			"format", formatDecoder.FormatName(),
			"mime_type", mimeStr)
		return formatDecoder
	}

	extensionDecoder := r.DetectFormat(filename)
	if extensionDecoder == nil {
		slog.Warn("no format detection method succeeded", "filename", filename)
	}
	return extensionDecoder
}

// findDecoderByFormat finds a decoder by its format name
func (r *Registry) findDecoderByFormat(formatName string) Decoder {
	for _, decoder := range r.decoders {
		if strings.EqualFold(decoder.FormatName(), formatName) {
			return decoder
		}
	}
	return nil
}

// Decode decodes an audio file using the appropriate decoder
func (r *Registry) Decode(filename string, reader io.Reader) (*AudioData, error) {
	// Buffer the entire content so format detection does not consume the reader
	fullContent, err := io.ReadAll(reader)
	if err != nil {
		slog.Error("failed to read content for decode", "filename", filename, "error", err)
		return nil, fmt.Errorf("failed to read audio content: %w", err)
	}

	decoder := r.DetectFormatWithContent(filename, bytes.NewReader(fullContent))
	if decoder == nil {
		err := fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
		slog.Error("no suitable decoder found", "filename", filename, "error", err)
		return nil, err
	}

	audioData, err := decoder.Decode(bytes.NewReader(fullContent))
	if err != nil {
		slog.Error("decode operation failed",
			"filename", filename,
			"decoder_format", decoder.FormatName(),
			"error", err)
		return nil, err
	}

	slog.Debug("decode completed",
		"filename", filename,
		"decoder_format", decoder.FormatName(),
		"channels", audioData.Channels,
		"sample_rate", audioData.SampleRate,
		"duration_ms", audioData.Duration().Milliseconds())

	return audioData, nil
}
