package config

import (
	"log/slog"
	"os"
	"strconv"
)

// TrackingConfig represents diagnostics tracking configuration
type TrackingConfig struct {
	Enabled      bool   `json:"enabled"`       // Whether event tracking is enabled
	DatabasePath string `json:"database_path"` // Custom database path (empty = XDG cache path)
}

// GetDefaultTrackingConfig returns the default tracking configuration
func GetDefaultTrackingConfig() *TrackingConfig {
	return &TrackingConfig{
		Enabled:      true, // Default enabled to capture load failures
		DatabasePath: "",   // Empty = XDG cache path
	}
}

// ApplyTrackingEnvironmentOverrides applies environment variable overrides
// to the tracking config
func ApplyTrackingEnvironmentOverrides(config *TrackingConfig) *TrackingConfig {
	result := *config

	if trackingStr := os.Getenv("CHIME_TRACKING"); trackingStr != "" {
		if enabled, err := strconv.ParseBool(trackingStr); err == nil {
			result.Enabled = enabled
			slog.Debug("applied tracking override from environment", "value", enabled)
		} else {
			slog.Warn("invalid CHIME_TRACKING environment variable", "value", trackingStr, "error", err)
		}
	}

	if dbPath := os.Getenv("CHIME_TRACKING_DB"); dbPath != "" {
		result.DatabasePath = dbPath
		slog.Debug("applied tracking database path from environment", "path", dbPath)
	}

	return &result
}
