package output_test

import (
	"bytes"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"go.trai.ch/kiln/internal/ui/output"
)

func TestColorProfile_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, termenv.Ascii, output.ColorProfile())
	assert.Equal(t, termenv.Ascii, output.ColorProfileANSI())
}

func TestColorProfileANSI(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	assert.Equal(t, termenv.ANSI, output.ColorProfileANSI())
}

func TestNew_PlainText(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var buf bytes.Buffer
	out := output.New(&buf)
	_, _ = out.WriteString(out.String("kiln").Foreground(termenv.ANSIRed).String())

	assert.Equal(t, "kiln", buf.String())
}

func TestNewWithProfile(t *testing.T) {
	var buf bytes.Buffer
	out := output.NewWithProfile(&buf, func() termenv.Profile { return termenv.Ascii })
	assert.Equal(t, termenv.Ascii, out.Profile)

	assert.NotPanics(t, func() { _ = output.New(nil) })
}
