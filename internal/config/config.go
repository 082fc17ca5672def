package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled"`      // Whether file logging is enabled
	Filename   string `json:"filename"`     // Log file path (empty = XDG cache path)
	MaxSizeMB  int    `json:"max_size_mb"`  // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress"`     // Whether to compress rotated files
}

// Config represents chime configuration
type Config struct {
	Volume       float64            `json:"volume"`                 // Master volume (0.0 to 1.0)
	Enabled      bool               `json:"enabled"`                // Whether audio output is enabled
	LogLevel     string             `json:"log_level"`              // Log level (debug, info, warn, error)
	AudioBackend string             `json:"audio_backend"`          // Audio backend (auto, speaker, command, null)
	ManifestPath string             `json:"manifest_path"`          // Manifest file path (empty = XDG discovery)
	ManifestURL  string             `json:"manifest_url,omitempty"` // Manifest URL; takes precedence over the path
	AudioDir     string             `json:"audio_dir"`              // Base directory for clip files
	FileLogging  *FileLoggingConfig `json:"file_logging,omitempty"` // File logging configuration
	Tracking     *TrackingConfig    `json:"tracking,omitempty"`     // Diagnostics tracking configuration
}

// Manager handles loading, saving, and validating configuration
type Manager struct {
	xdg *XDGDirs
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	slog.Debug("creating new config manager")
	return &Manager{xdg: NewXDGDirs()}
}

// GetDefaultConfig returns the default configuration
func (m *Manager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		Volume:       0.8,
		Enabled:      true,
		LogLevel:     "warn",
		AudioBackend: "auto",
		FileLogging: &FileLoggingConfig{
			Enabled:    false,
			Filename:   "",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Tracking: GetDefaultTrackingConfig(),
	}

	slog.Debug("generated default config",
		"volume", defaultConfig.Volume,
		"enabled", defaultConfig.Enabled,
		"log_level", defaultConfig.LogLevel,
		"audio_backend", defaultConfig.AudioBackend)

	return defaultConfig
}

// LoadFromFile loads configuration from a specific file
func (m *Manager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Error("failed to read config file", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := m.ValidateConfig(&config); err != nil {
		slog.Error("config validation failed", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"volume", config.Volume,
		"enabled", config.Enabled)

	return &config, nil
}

// SaveToFile saves configuration to a specific file
func (m *Manager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	if err := m.ValidateConfig(config); err != nil {
		slog.Error("cannot save invalid config", "error", err)
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		slog.Error("failed to marshal config", "error", err)
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// LoadConfig loads configuration using XDG path discovery
func (m *Manager) LoadConfig() (*Config, error) {
	slog.Debug("loading config using XDG path discovery")

	configPaths := m.xdg.GetConfigPaths("config.json")

	for i, configPath := range configPaths {
		slog.Debug("checking config path", "path_index", i, "path", configPath)

		if _, err := os.Stat(configPath); err == nil {
			slog.Debug("found config file", "path", configPath)
			return m.LoadFromFile(configPath)
		}
	}

	slog.Debug("no config file found, using defaults")
	return m.GetDefaultConfig(), nil
}

// ValidateConfig validates configuration values
func (m *Manager) ValidateConfig(config *Config) error {
	var errors []string

	if config.Volume < 0.0 || config.Volume > 1.0 {
		errors = append(errors, fmt.Sprintf("volume must be between 0.0 and 1.0, got %f", config.Volume))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if config.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if config.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("invalid log level '%s', must be one of: %s",
				config.LogLevel, strings.Join(validLogLevels, ", ")))
		}
	}

	if !m.IsValidAudioBackend(config.AudioBackend) {
		errors = append(errors, fmt.Sprintf("invalid audio backend '%s', must be one of: %s",
			config.AudioBackend, strings.Join(m.GetSupportedAudioBackends(), ", ")))
	}

	if config.FileLogging != nil {
		fl := config.FileLogging
		if fl.MaxSizeMB < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fl.MaxSizeMB))
		}
		if fl.MaxBackups < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fl.MaxBackups))
		}
		if fl.MaxAgeDays < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fl.MaxAgeDays))
		}
	}

	if len(errors) > 0 {
		errMsg := strings.Join(errors, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("config validation failed: %s", errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// MergeConfigs merges two configurations, with override taking precedence
func (m *Manager) MergeConfigs(base, override *Config) *Config {
	merged := *base

	if override.Volume != 0.0 {
		merged.Volume = override.Volume
	}
	if override.LogLevel != "" {
		merged.LogLevel = override.LogLevel
	}
	if override.AudioBackend != "" {
		merged.AudioBackend = override.AudioBackend
	}
	if override.ManifestPath != "" {
		merged.ManifestPath = override.ManifestPath
	}
	if override.ManifestURL != "" {
		merged.ManifestURL = override.ManifestURL
	}
	if override.AudioDir != "" {
		merged.AudioDir = override.AudioDir
	}

	slog.Debug("configurations merged")
	return &merged
}

// ApplyEnvironmentOverrides applies CHIME_* environment variable overrides
func (m *Manager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	result := *config

	if volStr := os.Getenv("CHIME_VOLUME"); volStr != "" {
		if vol, err := strconv.ParseFloat(volStr, 64); err == nil {
			result.Volume = vol
			slog.Debug("applied volume override from environment", "value", vol)
		} else {
			slog.Warn("invalid CHIME_VOLUME environment variable", "value", volStr, "error", err)
		}
	}

	if enabledStr := os.Getenv("CHIME_ENABLED"); enabledStr != "" {
		if enabled, err := strconv.ParseBool(enabledStr); err == nil {
			result.Enabled = enabled
			slog.Debug("applied enabled override from environment", "value", enabled)
		} else {
			slog.Warn("invalid CHIME_ENABLED environment variable", "value", enabledStr, "error", err)
		}
	}

	if logLevel := os.Getenv("CHIME_LOG_LEVEL"); logLevel != "" {
		result.LogLevel = logLevel
		slog.Debug("applied log level override from environment", "value", logLevel)
	}

	if audioBackend := os.Getenv("CHIME_AUDIO_BACKEND"); audioBackend != "" {
		if m.IsValidAudioBackend(audioBackend) {
			result.AudioBackend = audioBackend
			slog.Debug("applied audio backend override from environment", "value", audioBackend)
		} else {
			slog.Warn("invalid CHIME_AUDIO_BACKEND environment variable", "value", audioBackend)
		}
	}

	if manifest := os.Getenv("CHIME_MANIFEST"); manifest != "" {
		result.ManifestPath = manifest
		slog.Debug("applied manifest path override from environment", "value", manifest)
	}

	if audioDir := os.Getenv("CHIME_AUDIO_DIR"); audioDir != "" {
		result.AudioDir = audioDir
		slog.Debug("applied audio dir override from environment", "value", audioDir)
	}

	return &result
}

// ApplyLogLevel configures slog with the specified log level
func (m *Manager) ApplyLogLevel(logLevel string) error {
	return m.ApplyLogLevelWithWriter(logLevel, os.Stderr)
}

// ApplyLogLevelWithWriter configures slog with a custom writer (for testing
// and for rotating file output)
func (m *Manager) ApplyLogLevelWithWriter(logLevel string, writer io.Writer) error {
	if logLevel == "" {
		slog.Debug("no log level specified, keeping current slog configuration")
		return nil
	}

	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		err := fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", logLevel)
		slog.Error("invalid log level for slog configuration", "log_level", logLevel, "error", err)
		return err
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	slog.Debug("slog configured successfully", "log_level", logLevel, "slog_level", level)
	return nil
}

// ResolveLogFilePath resolves the log file path, defaulting to XDG cache
func (m *Manager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}
	return filepath.Join(m.xdg.GetCachePath("logs"), "chime.log")
}

// GetSupportedAudioBackends returns a list of all supported audio backend types
func (m *Manager) GetSupportedAudioBackends() []string {
	return []string{"auto", "speaker", "command", "null"}
}

// IsValidAudioBackend checks if an audio backend type is supported
func (m *Manager) IsValidAudioBackend(backend string) bool {
	// Empty string is valid (defaults to auto)
	if backend == "" {
		return true
	}

	for _, supported := range m.GetSupportedAudioBackends() {
		if backend == supported {
			return true
		}
	}
	return false
}
