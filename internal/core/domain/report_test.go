package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.trai.ch/kiln/internal/core/domain"
)

func TestReport(t *testing.T) {
	r := domain.NewReport()
	a, b, c, d := domain.NewModuleID("a"), domain.NewModuleID("b"), domain.NewModuleID("c"), domain.NewModuleID("d")

	r.Add(&domain.ModuleOutcome{Module: c, Name: "c", Status: domain.TaskFailed, Cause: domain.ErrAnalysisFailed})
	r.Add(&domain.ModuleOutcome{Module: b, Name: "b", Status: domain.TaskSkipped, Cause: domain.ErrDependencyFailed})
	r.Add(&domain.ModuleOutcome{Module: a, Name: "a", Status: domain.TaskSkipped, Cause: domain.ErrDependencyFailed})
	r.Add(&domain.ModuleOutcome{Module: d, Name: "d", Status: domain.TaskRunning})
	r.Add(&domain.ModuleOutcome{Module: d, Name: "d", Status: domain.TaskDone, Cached: true, Result: &domain.AnalysisResult{Name: "d"}})

	assert.Equal(t, []domain.ModuleID{c, b, a, d}, r.Order)
	assert.False(t, r.OK())

	failures := r.Failures()
	assert.Len(t, failures, 3)
	assert.Equal(t, "a", failures[0].Name)

	r.Summarize(time.Second)
	assert.Equal(t, domain.RunStats{Modules: 4, Cached: 1, Failed: 1, Skipped: 2, Elapsed: time.Second}, r.Stats)
}

func TestReport_OKRequiresCleanDiagnostics(t *testing.T) {
	r := domain.NewReport()
	r.Add(&domain.ModuleOutcome{
		Module: domain.NewModuleID("a"),
		Status: domain.TaskDone,
		Result: &domain.AnalysisResult{Diagnostics: []domain.Diagnostic{{Severity: domain.SeverityWarning, Message: "unused"}}},
	})
	assert.True(t, r.OK())

	r.Add(&domain.ModuleOutcome{
		Module: domain.NewModuleID("b"),
		Status: domain.TaskDone,
		Result: &domain.AnalysisResult{Diagnostics: []domain.Diagnostic{{Severity: domain.SeverityError, Message: "bad"}}},
	})
	assert.False(t, r.OK())
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   domain.TaskStatus
		terminal bool
	}{
		{domain.TaskPending, false},
		{domain.TaskReady, false},
		{domain.TaskRunning, false},
		{domain.TaskDone, true},
		{domain.TaskFailed, true},
		{domain.TaskSkipped, true},
		{domain.TaskCancelled, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}
