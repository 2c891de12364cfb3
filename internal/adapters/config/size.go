package config

import (
	"strconv"
	"strings"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Size is a byte count written as a plain integer or with a binary suffix
// (KiB, MiB, GiB).
type Size int64

var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"B", 1},
}

// ParseSize parses a size such as "64MiB" or "4096".
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	factor := int64(1)
	for _, u := range sizeUnits {
		if rest, ok := strings.CutSuffix(s, u.suffix); ok {
			s = strings.TrimSpace(rest)
			factor = u.factor
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, zerr.With(zerr.Wrap(domain.ErrInvalidConfig, "invalid size"), "size", s)
	}
	return Size(n * factor), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseSize(value.Value)
	if err != nil {
		return zerr.With(err, "line", value.Line)
	}
	*s = v
	return nil
}
