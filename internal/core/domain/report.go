package domain

import (
	"cmp"
	"maps"
	"slices"
	"time"
)

// ModuleOutcome is the final accounting of one module in a run.
type ModuleOutcome struct {
	Module   ModuleID
	Name     string
	Status   TaskStatus
	Result   *AnalysisResult
	Cause    error
	Cached   bool
	Duration time.Duration
}

// Failed reports whether the module did not produce a result.
func (o *ModuleOutcome) Failed() bool {
	return o.Status == TaskFailed || o.Status == TaskSkipped
}

// RunStats summarizes a run.
type RunStats struct {
	Modules     int
	Checked     int
	Cached      int
	Failed      int
	Skipped     int
	Cancelled   int
	Diagnostics int
	Elapsed     time.Duration
}

// Report is the result of checking a project: a partial result set plus
// the failed modules and their causes.
type Report struct {
	Outcomes map[ModuleID]*ModuleOutcome
	// Order lists the modules in the order their results were committed.
	Order []ModuleID
	Stats RunStats
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{Outcomes: make(map[ModuleID]*ModuleOutcome)}
}

// Add records an outcome. A module is accounted at most once; a later
// outcome replaces an earlier one without changing its position.
func (r *Report) Add(o *ModuleOutcome) {
	if _, ok := r.Outcomes[o.Module]; !ok {
		r.Order = append(r.Order, o.Module)
	}
	r.Outcomes[o.Module] = o
}

// Failures returns the failed and skipped outcomes sorted by module name.
func (r *Report) Failures() []*ModuleOutcome {
	var out []*ModuleOutcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b *ModuleOutcome) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Sorted returns every outcome sorted by module name.
func (r *Report) Sorted() []*ModuleOutcome {
	out := slices.Collect(maps.Values(r.Outcomes))
	slices.SortFunc(out, func(a, b *ModuleOutcome) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// OK reports whether every module produced a result without error diagnostics.
func (r *Report) OK() bool {
	for _, o := range r.Outcomes {
		if o.Status != TaskDone {
			return false
		}
		if o.Result != nil && o.Result.HasErrors() {
			return false
		}
	}
	return true
}

// Summarize fills in Stats from the outcomes.
func (r *Report) Summarize(elapsed time.Duration) {
	s := RunStats{Modules: len(r.Outcomes), Elapsed: elapsed}
	for _, o := range r.Outcomes {
		switch o.Status {
		case TaskDone:
			if o.Cached {
				s.Cached++
			} else {
				s.Checked++
			}
		case TaskFailed:
			s.Failed++
		case TaskSkipped:
			s.Skipped++
		case TaskCancelled:
			s.Cancelled++
		}
		if o.Result != nil {
			s.Diagnostics += len(o.Result.Diagnostics)
		}
	}
	r.Stats = s
}
