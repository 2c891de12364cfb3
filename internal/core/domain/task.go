package domain

// TaskStatus represents the lifecycle state of an analysis task.
type TaskStatus string

const (
	// TaskPending indicates the task is waiting for its dependencies.
	TaskPending TaskStatus = "pending"
	// TaskReady indicates every dependency is done and the task can be dispatched.
	TaskReady TaskStatus = "ready"
	// TaskRunning indicates the task is executing on a worker.
	TaskRunning TaskStatus = "running"
	// TaskDone indicates the task completed and its result was committed.
	TaskDone TaskStatus = "done"
	// TaskFailed indicates the task failed.
	TaskFailed TaskStatus = "failed"
	// TaskSkipped indicates the task was not run because a dependency failed or was missing.
	TaskSkipped TaskStatus = "skipped"
	// TaskCancelled indicates the run was cancelled before the task finished.
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition can happen.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskDone, TaskFailed, TaskSkipped, TaskCancelled:
		return true
	default:
		return false
	}
}

// AnalysisTask is a schedulable unit of work.
type AnalysisTask struct {
	Key    QueryKey
	Module ModuleID
	Name   string
	// Priority breaks ties between tasks of the same rank; higher runs first.
	Priority int
	Deps     []ModuleID
	// Rank is the task's dependency layer, leaves are 0.
	Rank int
	// Seq is the submission order, the final tie-break.
	Seq uint64
}

// TaskResult is what an executor returns for a task that ran to completion.
type TaskResult struct {
	Result *AnalysisResult
	// Cached is set when the result was reused instead of recomputed.
	Cached bool
}
