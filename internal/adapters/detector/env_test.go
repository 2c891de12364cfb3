package detector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/detector"
	"go.trai.ch/kiln/internal/core/domain"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		env  detector.Environment
		want detector.OutputMode
	}{
		{"terminal", detector.Environment{IsTerminal: true}, detector.ModeTUI},
		{"pipe", detector.Environment{}, detector.ModeLinear},
		{"CI=true", detector.Environment{IsTerminal: true, CI: "true"}, detector.ModeLinear},
		{"CI=1", detector.Environment{IsTerminal: true, CI: "1"}, detector.ModeLinear},
		{"CI=false", detector.Environment{IsTerminal: true, CI: "false"}, detector.ModeTUI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detector.Detect(tt.env))
		})
	}
}

func TestParseModeAndResolve(t *testing.T) {
	for flag, want := range map[string]detector.OutputMode{
		"": detector.ModeAuto, "auto": detector.ModeAuto, "tui": detector.ModeTUI,
		"linear": detector.ModeLinear, "ci": detector.ModeLinear,
	} {
		got, err := detector.ParseMode(flag)
		require.NoError(t, err, flag)
		assert.Equal(t, want, got, flag)
	}

	_, err := detector.ParseMode("fancy")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	assert.Equal(t, detector.ModeTUI, detector.Resolve(detector.ModeTUI, detector.ModeAuto))
	assert.Equal(t, detector.ModeLinear, detector.Resolve(detector.ModeTUI, detector.ModeLinear))
	assert.Equal(t, "linear", detector.ModeLinear.String())
}
