package backend

import (
	"errors"
	"fmt"
	"log/slog"
)

// Factory creates Backend instances based on configuration
type Factory interface {
	CreateBackend(backendType string) (Backend, error)
	SupportedBackends() []string
	IsValidBackendType(backendType string) bool
}

// Factory errors
var (
	ErrInvalidBackendType    = errors.New("invalid backend type")
	ErrBackendCreationFailed = errors.New("backend creation failed")
)

// DefaultFactory implements Factory with platform detection
type DefaultFactory struct {
	isWSLFunc      func() bool
	commandExists  func(string) bool
	hasAudioDevice bool
	startSuspended bool
}

// NewFactory creates a factory with real platform detection. The
// hasAudioDevice and startSuspended knobs come from the capability
// detector (device availability and gesture policy respectively).
func NewFactory(hasAudioDevice, startSuspended bool) *DefaultFactory {
	return &DefaultFactory{
		isWSLFunc:      IsWSL,
		commandExists:  CommandExists,
		hasAudioDevice: hasAudioDevice,
		startSuspended: startSuspended,
	}
}

// NewFactoryWithDependencies creates a factory with injected probes for testing
func NewFactoryWithDependencies(isWSLFunc func() bool, commandExists func(string) bool, hasAudioDevice, startSuspended bool) *DefaultFactory {
	return &DefaultFactory{
		isWSLFunc:      isWSLFunc,
		commandExists:  commandExists,
		hasAudioDevice: hasAudioDevice,
		startSuspended: startSuspended,
	}
}

// CreateBackend creates a Backend instance of the specified type
func (f *DefaultFactory) CreateBackend(backendType string) (Backend, error) {
	if backendType == "" {
		backendType = "auto"
	}

	slog.Debug("creating audio backend", "type", backendType)

	switch backendType {
	case "auto":
		return f.createAutoBackend()
	case "speaker":
		return f.createSpeakerBackend()
	case "command":
		return f.createCommandBackend()
	case "null":
		return NewNullBackend(), nil
	default:
		slog.Error("invalid backend type requested", "type", backendType)
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackendType, backendType)
	}
}

// SupportedBackends returns all supported backend types
func (f *DefaultFactory) SupportedBackends() []string {
	return []string{"auto", "speaker", "command", "null"}
}

// IsValidBackendType checks if a backend type is supported
func (f *DefaultFactory) IsValidBackendType(backendType string) bool {
	// Empty string is valid (defaults to auto)
	if backendType == "" {
		return true
	}

	for _, supported := range f.SupportedBackends() {
		if backendType == supported {
			return true
		}
	}
	return false
}

// createAutoBackend selects the best backend for the current platform
func (f *DefaultFactory) createAutoBackend() (Backend, error) {
	optimalType := detectOptimalBackendWithChecker(f.isWSLFunc(), f.hasAudioDevice, f.commandExists)
	slog.Debug("auto-detection result", "selected_type", optimalType)

	switch optimalType {
	case "command":
		return f.createCommandBackend()
	case "speaker":
		return f.createSpeakerBackend()
	case "null":
		return NewNullBackend(), nil
	default:
		return nil, fmt.Errorf("%w: auto-detection failed", ErrBackendCreationFailed)
	}
}

func (f *DefaultFactory) createSpeakerBackend() (Backend, error) {
	return NewSpeakerBackend(SpeakerOptions{StartSuspended: f.startSuspended})
}

func (f *DefaultFactory) createCommandBackend() (Backend, error) {
	command := preferredSystemCommandWithChecker(f.commandExists)
	if command == "" {
		slog.Error("no system audio commands available")
		return nil, fmt.Errorf("%w: no system audio commands found", ErrBackendCreationFailed)
	}
	return NewCommandBackend(command), nil
}
