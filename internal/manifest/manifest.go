package manifest

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/verbaquest/chime/internal/caps"
)

// Manifest is the declarative catalogue mapping logical audio IDs to
// category metadata and per-format file variants. It is read-only after
// load; the loader caches one instance per process.
type Manifest struct {
	Version          string              `json:"version"`
	LastUpdated      string              `json:"lastUpdated"`
	Description      string              `json:"description"`
	SupportedFormats []string            `json:"supportedFormats"`
	DefaultFormat    string              `json:"defaultFormat"`
	FallbackFormat   string              `json:"fallbackFormat"`
	Categories       map[string]Category `json:"categories"`
	Validation       Validation          `json:"validation"`

	// index maps entry IDs to their entries, built once after parsing
	index map[string]*Entry
}

// Category groups manifest entries under a named section
type Category struct {
	Description string  `json:"description"`
	Files       []Entry `json:"files"`
}

// Entry describes one logical audio resource and its format variants
type Entry struct {
	ID       string            `json:"id"`
	Files    map[string]string `json:"files"`
	Duration float64           `json:"duration"`
	Volume   *float64          `json:"volume,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Dialect  string            `json:"dialect,omitempty"`
}

// Validation carries the manifest's self-check expectations
type Validation struct {
	TotalFiles     int    `json:"totalFiles"`
	Categories     int    `json:"categories"`
	Checksum       string `json:"checksum"`
	IntegrityCheck bool   `json:"integrityCheck"`
}

// NotFoundError reports an audio ID absent from every category
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("audio id not found in manifest: %s", e.ID)
}

// IsNotFoundError checks if an error is a NotFoundError
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// NoSupportedFormatError reports an entry with zero file variants
type NoSupportedFormatError struct {
	ID string
}

func (e *NoSupportedFormatError) Error() string {
	return fmt.Sprintf("manifest entry has no file variants: %s", e.ID)
}

// IsNoSupportedFormatError checks if an error is a NoSupportedFormatError
func IsNoSupportedFormatError(err error) bool {
	_, ok := err.(*NoSupportedFormatError)
	return ok
}

// FormatProber answers whether the current environment can play a format
type FormatProber interface {
	CanPlayFormat(format string) caps.Support
}

// buildIndex creates the ID lookup table. Duplicate IDs keep the first
// occurrence and log the collision.
func (m *Manifest) buildIndex() {
	m.index = make(map[string]*Entry)

	for name, category := range m.Categories {
		files := category.Files
		for i := range files {
			entry := &files[i]
			if entry.ID == "" {
				slog.Warn("manifest entry with empty id skipped", "category", name)
				continue
			}
			if _, exists := m.index[entry.ID]; exists {
				slog.Warn("duplicate manifest entry id, keeping first",
					"id", entry.ID,
					"category", name)
				continue
			}
			m.index[entry.ID] = entry
		}
	}

	slog.Debug("manifest index built",
		"entries", len(m.index),
		"categories", len(m.Categories))
}

// Resolve returns the entry for a logical audio ID
func (m *Manifest) Resolve(id string) (*Entry, error) {
	if entry, exists := m.index[id]; exists {
		return entry, nil
	}

	slog.Debug("manifest id not found", "id", id, "entries", len(m.index))
	return nil, &NotFoundError{ID: id}
}

// EntryCount returns the number of indexed entries
func (m *Manifest) EntryCount() int {
	return len(m.index)
}

// BestFormat picks the path of the best playable variant for an entry.
// Preference order is default format, fallback format, then the manifest's
// supported-format list. When probing rejects everything the entry still
// resolves to its first available variant, since probing can be unreliable
// in embedded hosts.
func (m *Manifest) BestFormat(entry *Entry, prober FormatProber) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("manifest entry cannot be nil")
	}

	if len(entry.Files) == 0 {
		slog.Warn("manifest entry has no file variants", "id", entry.ID)
		return "", &NoSupportedFormatError{ID: entry.ID}
	}

	preference := make([]string, 0, len(m.SupportedFormats)+2)
	preference = append(preference, m.DefaultFormat, m.FallbackFormat)
	preference = append(preference, m.SupportedFormats...)

	seen := make(map[string]bool, len(preference))
	for _, format := range preference {
		format = strings.ToLower(format)
		if format == "" || seen[format] {
			continue
		}
		seen[format] = true

		path, hasFile := entry.Files[format]
		if !hasFile {
			continue
		}

		support := caps.SupportProbably
		if prober != nil {
			support = prober.CanPlayFormat(format)
		}
		if support != caps.SupportNone {
			slog.Debug("manifest format selected",
				"id", entry.ID,
				"format", format,
				"support", string(support),
				"path", path)
			return path, nil
		}
	}

	// Probing rejected every preferred format: take whatever the entry has
	for format, path := range entry.Files {
		slog.Warn("no preferred format playable, using first available variant",
			"id", entry.ID,
			"format", format)
		return path, nil
	}

	return "", &NoSupportedFormatError{ID: entry.ID}
}

// IntegrityProblems checks the validation block against the actual
// catalogue contents. A non-empty result marks the manifest as failing
// integrity validation; the manifest itself stays usable and the result
// is for diagnostics only.
func (m *Manifest) IntegrityProblems() []string {
	var problems []string

	totalFiles := 0
	for _, category := range m.Categories {
		totalFiles += len(category.Files)
	}

	if m.Validation.TotalFiles != totalFiles {
		problems = append(problems, fmt.Sprintf(
			"validation.totalFiles is %d but manifest has %d entries",
			m.Validation.TotalFiles, totalFiles))
	}

	if m.Validation.Categories != len(m.Categories) {
		problems = append(problems, fmt.Sprintf(
			"validation.categories is %d but manifest has %d categories",
			m.Validation.Categories, len(m.Categories)))
	}

	if len(problems) > 0 {
		slog.Warn("manifest failed integrity validation",
			"problems", strings.Join(problems, "; "))
	}

	return problems
}
