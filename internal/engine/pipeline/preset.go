package pipeline

import (
	"slices"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// Stage names used by the presets.
const (
	StageRead   = "read"
	StageParse  = "parse"
	StageRecord = "record"
	StageCheck  = "check"
	StageEmit   = "emit"
)

var presets = map[domain.Preset][]string{
	domain.PresetStandard:  {StageRead, StageParse, StageRecord, StageCheck, StageEmit},
	domain.PresetCheckOnly: {StageRead, StageParse, StageRecord, StageCheck},
	domain.PresetFast:      {StageRead, StageParse, StageRecord, StageCheck},
}

// PresetStages returns the stage names of a preset in order.
func PresetStages(p domain.Preset) ([]string, error) {
	stages, ok := presets[p]
	if !ok {
		return nil, zerr.With(zerr.Wrap(domain.ErrInvalidConfig, "unknown preset"), "preset", string(p))
	}
	return slices.Clone(stages), nil
}

// Split cuts names around at: the stages before it and the stages after it.
func Split(names []string, at string) (before, after []string) {
	i := slices.Index(names, at)
	if i < 0 {
		return slices.Clone(names), nil
	}
	return slices.Clone(names[:i]), slices.Clone(names[i+1:])
}
