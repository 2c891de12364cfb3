// Package detector picks the output mode for the current terminal.
package detector

import (
	"os"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
	"golang.org/x/term"
)

// OutputMode represents the rendering mode for the application.
type OutputMode int

const (
	// ModeAuto automatically detects the appropriate mode.
	ModeAuto OutputMode = iota
	// ModeTUI forces the interactive TUI renderer.
	ModeTUI
	// ModeLinear forces the linear CI renderer.
	ModeLinear
)

// String returns the flag spelling of the mode.
func (m OutputMode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModeLinear:
		return "linear"
	default:
		return "auto"
	}
}

// Environment is what detection looks at.
type Environment struct {
	IsTerminal bool
	CI         string
}

// Current inspects stdout and the CI variable.
func Current() Environment {
	return Environment{
		IsTerminal: term.IsTerminal(int(os.Stdout.Fd())),
		CI:         os.Getenv("CI"),
	}
}

// Detect returns the recommended output mode for env. Non terminals and
// CI runs get linear output.
func Detect(env Environment) OutputMode {
	if !env.IsTerminal || env.CI == "true" || env.CI == "1" {
		return ModeLinear
	}
	return ModeTUI
}

// ParseMode parses the --output flag: auto, tui, linear or ci.
func ParseMode(flag string) (OutputMode, error) {
	switch flag {
	case "auto", "":
		return ModeAuto, nil
	case "tui":
		return ModeTUI, nil
	case "linear", "ci":
		return ModeLinear, nil
	default:
		return ModeAuto, zerr.With(zerr.Wrap(domain.ErrInvalidConfig, "unknown output mode"), "output", flag)
	}
}

// Resolve applies a user choice to the detected mode.
func Resolve(detected, user OutputMode) OutputMode {
	if user == ModeAuto {
		return detected
	}
	return user
}
