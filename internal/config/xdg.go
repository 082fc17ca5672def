package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// XDGDirs provides XDG Base Directory compliant paths for chime
type XDGDirs struct{}

// NewXDGDirs creates a new XDG directory manager
func NewXDGDirs() *XDGDirs {
	return &XDGDirs{}
}

// GetConfigPaths returns prioritized paths where config files can be found:
// user config dir first, then system config dirs
func (x *XDGDirs) GetConfigPaths(filename string) []string {
	var paths []string

	baseDir := "chime"

	userConfigPath := filepath.Join(xdg.ConfigHome, baseDir)
	if filename != "" {
		userConfigPath = filepath.Join(userConfigPath, filename)
	}
	paths = append(paths, userConfigPath)

	for _, configDir := range xdg.ConfigDirs {
		systemConfigPath := filepath.Join(configDir, baseDir)
		if filename != "" {
			systemConfigPath = filepath.Join(systemConfigPath, filename)
		}
		paths = append(paths, systemConfigPath)
	}

	slog.Debug("generated config paths",
		"filename", filename,
		"total_paths", len(paths),
		"user_path", userConfigPath)

	return paths
}

// GetAudioPaths returns prioritized directories where audio assets can live:
// user data dir first, then system data dirs
func (x *XDGDirs) GetAudioPaths() []string {
	var paths []string

	baseDir := filepath.Join("chime", "audio")

	userPath := filepath.Join(xdg.DataHome, baseDir)
	paths = append(paths, userPath)

	for _, dataDir := range xdg.DataDirs {
		paths = append(paths, filepath.Join(dataDir, baseDir))
	}

	slog.Debug("generated audio asset paths",
		"total_paths", len(paths),
		"user_path", userPath)

	return paths
}

// GetCachePath returns the cache directory path for a specific purpose
func (x *XDGDirs) GetCachePath(purpose string) string {
	baseDir := "chime"
	if purpose != "" {
		baseDir = filepath.Join(baseDir, purpose)
	}

	return filepath.Join(xdg.CacheHome, baseDir)
}

// CreateCacheDir creates the cache directory for a specific purpose
func (x *XDGDirs) CreateCacheDir(purpose string) error {
	cachePath := x.GetCachePath(purpose)

	if err := os.MkdirAll(cachePath, 0755); err != nil {
		slog.Error("failed to create cache directory", "path", cachePath, "error", err)
		return err
	}

	slog.Debug("cache directory ready", "path", cachePath)
	return nil
}

// FindManifest searches the audio asset directories for a manifest file.
// Returns the first existing path, or empty string when none is found.
func (x *XDGDirs) FindManifest(filename string) string {
	if filename == "" {
		filename = "manifest.json"
	}

	filename = sanitizePath(filename)
	if filename == "" {
		slog.Warn("manifest filename was empty after sanitization")
		return ""
	}

	for i, basePath := range x.GetAudioPaths() {
		fullPath := filepath.Join(basePath, filename)
		if _, err := os.Stat(fullPath); err == nil {
			slog.Info("manifest found", "path", fullPath, "path_index", i)
			return fullPath
		}
	}

	slog.Debug("manifest not found in any audio path", "filename", filename)
	return ""
}

// sanitizePath removes dangerous path components and normalizes the path
func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "\x00", "")
	path = strings.ReplaceAll(path, "\n", "")
	path = strings.ReplaceAll(path, "\r", "")

	path = filepath.Clean(path)

	// Prevent directory traversal
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "..") || strings.Contains(path, "../") {
		slog.Warn("rejecting potentially dangerous path", "path", path)
		return ""
	}

	return path
}
