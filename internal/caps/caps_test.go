package caps

import (
	"testing"

	"github.com/verbaquest/chime/internal/codec"
)

const (
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	androidUA = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"
	desktopUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	firefoxUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0"
)

func TestDetectIOSEnvironment(t *testing.T) {
	detector := NewDetectorWithEnvironment(Environment{
		UserAgent:    iphoneUA,
		TouchCapable: true,
		AudioDevice:  true,
	}, nil)

	caps := detector.Detect()

	if !caps.IsIOS {
		t.Error("expected iOS detection")
	}
	if !caps.IsMobile {
		t.Error("iOS implies mobile")
	}
	if caps.IsAndroid {
		t.Error("unexpected Android detection")
	}
	if !caps.RequiresGesture {
		t.Error("iOS requires a user gesture before playback")
	}
	if caps.BrowserName != "safari" {
		t.Errorf("expected safari, got %q", caps.BrowserName)
	}
	if caps.BrowserVersion != "17.4" {
		t.Errorf("expected version 17.4, got %q", caps.BrowserVersion)
	}
}

func TestDetectAndroidEnvironment(t *testing.T) {
	detector := NewDetectorWithEnvironment(Environment{
		UserAgent:    androidUA,
		TouchCapable: true,
		AudioDevice:  true,
	}, nil)

	caps := detector.Detect()

	if !caps.IsAndroid || !caps.IsMobile || !caps.RequiresGesture {
		t.Errorf("unexpected Android capabilities: %+v", caps)
	}
	if caps.BrowserName != "chrome" {
		t.Errorf("expected chrome, got %q", caps.BrowserName)
	}
}

func TestDetectDesktopEnvironment(t *testing.T) {
	detector := NewDetectorWithEnvironment(Environment{
		UserAgent:   desktopUA,
		AudioDevice: true,
	}, nil)

	caps := detector.Detect()

	if caps.IsMobile || caps.IsIOS || caps.IsAndroid {
		t.Errorf("desktop UA misclassified as mobile: %+v", caps)
	}
	if caps.RequiresGesture {
		t.Error("desktop environment should not require a gesture")
	}
}

func TestDetectFirefoxBrowser(t *testing.T) {
	detector := NewDetectorWithEnvironment(Environment{UserAgent: firefoxUA}, nil)

	caps := detector.Detect()
	if caps.BrowserName != "firefox" {
		t.Errorf("expected firefox, got %q", caps.BrowserName)
	}
	if caps.BrowserVersion != "125.0" {
		t.Errorf("expected version 125.0, got %q", caps.BrowserVersion)
	}
}

func TestDetectUnknownEnvironmentIsConservative(t *testing.T) {
	// No user agent but touch input present: assume gesture gating
	detector := NewDetectorWithEnvironment(Environment{
		UserAgent:    "",
		TouchCapable: true,
	}, nil)

	caps := detector.Detect()
	if !caps.RequiresGesture {
		t.Error("ambiguous touch-capable environment must require a gesture")
	}
	if caps.BrowserName != "unknown" {
		t.Errorf("expected unknown browser, got %q", caps.BrowserName)
	}
}

func TestDetectIsMemoized(t *testing.T) {
	calls := 0
	detector := &Detector{
		env: func() Environment {
			calls++
			return Environment{UserAgent: desktopUA}
		},
	}

	first := detector.Detect()
	second := detector.Detect()

	if calls != 1 {
		t.Errorf("expected exactly one environment read, got %d", calls)
	}
	if first != second {
		t.Error("Detect should return the memoized capabilities pointer")
	}
}

func TestCanPlayFormat(t *testing.T) {
	registry := codec.NewDefaultRegistry()
	detector := NewDetectorWithEnvironment(Environment{UserAgent: desktopUA}, registry)

	testCases := []struct {
		format   string
		expected Support
	}{
		{"mp3", SupportProbably},
		{"ogg", SupportProbably},
		{"wav", SupportProbably},
		{"aac", SupportNone},
		{"", SupportNone},
	}

	for _, tc := range testCases {
		if got := detector.CanPlayFormat(tc.format); got != tc.expected {
			t.Errorf("CanPlayFormat(%q) = %q, expected %q", tc.format, got, tc.expected)
		}
	}
}

func TestCanPlayFormatWithoutRegistry(t *testing.T) {
	detector := NewDetectorWithEnvironment(Environment{}, nil)

	if got := detector.CanPlayFormat("mp3"); got != SupportNone {
		t.Errorf("detector without registry should report no support, got %q", got)
	}
}
