package caps

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/verbaquest/chime/internal/codec"
)

// Support describes how confident the engine is that a format is playable,
// mirroring the "probably"/"maybe"/"" vocabulary of media canPlayType probes
type Support string

const (
	SupportProbably Support = "probably"
	SupportMaybe    Support = "maybe"
	SupportNone     Support = ""
)

// Environment describes the host shell the engine is embedded in.
// The values come from the UI bridge (user agent string, input and
// output device availability) rather than from the engine itself.
type Environment struct {
	UserAgent    string
	TouchCapable bool
	AudioDevice  bool
}

// EnvironmentFromHost reads the environment descriptor the host shell
// publishes through CHIME_* variables. Missing values degrade to an
// unknown environment, which the detector treats conservatively.
func EnvironmentFromHost() Environment {
	env := Environment{
		UserAgent:    os.Getenv("CHIME_USER_AGENT"),
		TouchCapable: boolFromEnv("CHIME_TOUCH_CAPABLE", false),
		AudioDevice:  boolFromEnv("CHIME_AUDIO_DEVICE", true),
	}

	slog.Debug("host environment descriptor read",
		"user_agent", truncateString(env.UserAgent, 60),
		"touch_capable", env.TouchCapable,
		"audio_device", env.AudioDevice)

	return env
}

func boolFromEnv(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid boolean environment variable", "key", key, "value", raw, "error", err)
		return fallback
	}
	return value
}

// Capabilities is the one-shot inspection result of the host environment
type Capabilities struct {
	IsMobile            bool
	IsIOS               bool
	IsAndroid           bool
	RequiresGesture     bool
	SupportsAudioDevice bool
	BrowserName         string
	BrowserVersion      string
}

// Detector memoizes a single environment inspection and answers format
// playability probes through the codec decoder registry
type Detector struct {
	once     sync.Once
	caps     *Capabilities
	env      func() Environment
	registry *codec.Registry
}

// NewDetector creates a detector that inspects the host-published environment
func NewDetector(registry *codec.Registry) *Detector {
	return &Detector{
		env:      EnvironmentFromHost,
		registry: registry,
	}
}

// NewDetectorWithEnvironment creates a detector over a fixed environment
// descriptor, used by tests and by hosts that bridge the values directly
func NewDetectorWithEnvironment(env Environment, registry *codec.Registry) *Detector {
	return &Detector{
		env:      func() Environment { return env },
		registry: registry,
	}
}

// Detect inspects the environment exactly once and returns the memoized result
func (d *Detector) Detect() *Capabilities {
	d.once.Do(func() {
		env := d.env()
		d.caps = detectFromEnvironment(env)

		slog.Info("environment capabilities detected",
			"is_mobile", d.caps.IsMobile,
			"is_ios", d.caps.IsIOS,
			"is_android", d.caps.IsAndroid,
			"requires_gesture", d.caps.RequiresGesture,
			"supports_audio_device", d.caps.SupportsAudioDevice,
			"browser", d.caps.BrowserName,
			"browser_version", d.caps.BrowserVersion)
	})
	return d.caps
}

// CanPlayFormat reports playability of a manifest format name. A format with
// a registered decoder is "probably" playable; anything else is unsupported.
// There is no "maybe" tier here because decoding happens in-process, but the
// vocabulary is kept so manifest preference logic accepts either answer.
func (d *Detector) CanPlayFormat(format string) Support {
	if d.registry == nil || format == "" {
		return SupportNone
	}
	if d.registry.Supports(format) {
		return SupportProbably
	}
	return SupportNone
}

// detectFromEnvironment derives capabilities from an environment descriptor
func detectFromEnvironment(env Environment) *Capabilities {
	ua := strings.ToLower(env.UserAgent)

	caps := &Capabilities{
		SupportsAudioDevice: env.AudioDevice,
	}

	caps.IsIOS = strings.Contains(ua, "iphone") ||
		strings.Contains(ua, "ipad") ||
		strings.Contains(ua, "ipod")
	caps.IsAndroid = strings.Contains(ua, "android")

	mobileMarkers := []string{"mobile", "webos", "blackberry", "iemobile", "opera mini"}
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			caps.IsMobile = true
			break
		}
	}
	if caps.IsIOS || caps.IsAndroid {
		caps.IsMobile = true
	}

	caps.BrowserName, caps.BrowserVersion = parseBrowser(ua)

	// Mobile platforms gate playback behind a user gesture. An unknown
	// environment that still reports touch input gets the conservative
	// policy as well.
	switch {
	case caps.IsIOS || caps.IsAndroid:
		caps.RequiresGesture = true
	case caps.IsMobile:
		caps.RequiresGesture = true
	case ua == "" && env.TouchCapable:
		caps.RequiresGesture = true
	}

	return caps
}

// parseBrowser extracts a browser name and version from a lowercased user agent
func parseBrowser(ua string) (string, string) {
	switch {
	case strings.Contains(ua, "edg/"):
		return "edge", versionAfter(ua, "edg/")
	case strings.Contains(ua, "opr/"):
		return "opera", versionAfter(ua, "opr/")
	case strings.Contains(ua, "chrome/"):
		return "chrome", versionAfter(ua, "chrome/")
	case strings.Contains(ua, "firefox/"):
		return "firefox", versionAfter(ua, "firefox/")
	case strings.Contains(ua, "safari/"):
		return "safari", versionAfter(ua, "version/")
	default:
		return "unknown", ""
	}
}

// versionAfter extracts the dotted version number following a marker token
func versionAfter(ua, marker string) string {
	idx := strings.Index(ua, marker)
	if idx < 0 {
		return ""
	}
	rest := ua[idx+len(marker):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	})
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// truncateString truncates a string to maxLen characters for logging
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
