// Package tui renders thread state for the terminal.
package tui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// OutputMode represents the output mode.
type OutputMode int

const (
	// ModePretty uses colors, borders and rendered markdown.
	ModePretty OutputMode = iota

	// ModePlain uses plain text output.
	ModePlain

	// ModeJSON uses JSON structured output.
	ModeJSON

	// ModeYAML uses YAML structured output.
	ModeYAML
)

// String returns the string representation of the output mode.
func (m OutputMode) String() string {
	switch m {
	case ModePretty:
		return "pretty"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// ParseOutputMode maps a flag value to a mode. The empty string and "auto"
// report false so the caller falls back to detection.
func ParseOutputMode(s string) (OutputMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pretty":
		return ModePretty, true
	case "plain", "text":
		return ModePlain, true
	case "json":
		return ModeJSON, true
	case "yaml", "yml":
		return ModeYAML, true
	}
	return 0, false
}

// Detector determines the appropriate output mode.
type Detector struct {
	forceMode *OutputMode
	noColor   bool
	getenv    func(string) string
	isTTY     func() bool
}

// NewDetector creates a new output mode detector.
func NewDetector() *Detector {
	return &Detector{
		getenv: os.Getenv,
		isTTY:  func() bool { return term.IsTerminal(int(os.Stdout.Fd())) },
	}
}

// ForceMode forces a specific output mode.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forceMode = &mode
	return d
}

// NoColor disables color output.
func (d *Detector) NoColor(disable bool) *Detector {
	d.noColor = disable
	return d
}

// Detect determines the appropriate output mode.
func (d *Detector) Detect() OutputMode {
	if d.forceMode != nil {
		return *d.forceMode
	}
	if mode, ok := ParseOutputMode(d.getenv("CASEWORK_OUTPUT")); ok {
		return mode
	}
	if d.getenv("CI") != "" || d.getenv("GITHUB_ACTIONS") != "" {
		return ModePlain
	}
	if d.noColor || d.getenv("NO_COLOR") != "" || d.getenv("TERM") == "dumb" {
		return ModePlain
	}
	if !d.isTTY() {
		return ModePlain
	}
	return ModePretty
}
