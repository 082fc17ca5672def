package backend

import (
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// IsWSL checks if the current environment is Windows Subsystem for Linux
func IsWSL() bool {
	return detectWSLFromData(readProcVersion(), os.Getenv("WSL_DISTRO_NAME"))
}

// detectWSLFromData checks for WSL indicators in the provided data (for testing)
func detectWSLFromData(procVersion, wslEnv string) bool {
	if wslEnv != "" {
		slog.Debug("WSL detected via environment variable", "distro", wslEnv)
		return true
	}

	procLower := strings.ToLower(procVersion)
	if strings.Contains(procLower, "microsoft") || strings.Contains(procLower, "wsl") {
		slog.Debug("WSL detected via /proc/version")
		return true
	}

	return false
}

// readProcVersion reads /proc/version file content
func readProcVersion() string {
	content, err := os.ReadFile("/proc/version")
	if err != nil {
		slog.Debug("failed to read /proc/version", "error", err)
		return ""
	}
	return string(content)
}

// CommandExists checks if a command is available in the system's PATH
func CommandExists(command string) bool {
	if command == "" {
		return false
	}

	_, err := exec.LookPath(command)
	return err == nil
}

// detectOptimalBackendWithChecker picks the best backend type for the
// current platform, with injectable probes for testing
func detectOptimalBackendWithChecker(isWSL bool, hasAudioDevice bool, commandChecker func(string) bool) string {
	if !hasAudioDevice {
		slog.Debug("no audio device reported, selecting null backend")
		return "null"
	}

	if isWSL {
		// In WSL, direct device output tends to crackle; prefer a
		// system player when one is installed
		if cmd := preferredSystemCommandWithChecker(commandChecker); cmd != "" {
			slog.Debug("WSL detected, using system command backend", "command", cmd)
			return "command"
		}
		slog.Warn("no system audio commands found in WSL, falling back to speaker output")
		return "speaker"
	}

	return "speaker"
}

// PreferredSystemCommand finds the best available system audio command
func PreferredSystemCommand() string {
	return preferredSystemCommandWithChecker(CommandExists)
}

// preferredSystemCommandWithChecker allows dependency injection for testing
func preferredSystemCommandWithChecker(commandChecker func(string) bool) string {
	// Priority order: PulseAudio, FFmpeg, ALSA, macOS built-in
	preferredCommands := []string{"paplay", "ffplay", "aplay", "afplay"}

	for _, cmd := range preferredCommands {
		if commandChecker(cmd) {
			slog.Debug("preferred system command found", "command", cmd)
			return cmd
		}
	}

	return ""
}
