package domain

import (
	"context"
	"errors"

	"go.trai.ch/zerr"
)

var (
	// ErrCycleDetected is returned when recording a module would close a cycle in the dependency graph.
	ErrCycleDetected = zerr.New("cycle detected")

	// ErrModuleNotFound is returned when a requested module is not in the graph.
	ErrModuleNotFound = zerr.New("module not found")

	// ErrMissingDependency is returned when a module depends on a module that was never recorded.
	ErrMissingDependency = zerr.New("missing dependency")

	// ErrDependencyFailed is returned for modules skipped because a dependency failed.
	ErrDependencyFailed = zerr.New("dependency failed")

	// ErrCacheIntegrity is returned when a persisted cache entry does not match its digest.
	ErrCacheIntegrity = zerr.New("cache integrity check failed")

	// ErrCacheCollision is reported when the same content hash is stored with different content.
	ErrCacheCollision = zerr.New("content hash collision")

	// ErrStoreOpenFailed is returned when the persistent result store cannot be opened.
	ErrStoreOpenFailed = zerr.New("failed to open result store")

	// ErrStoreReadFailed is returned when a persisted result cannot be read.
	ErrStoreReadFailed = zerr.New("failed to read result")

	// ErrStoreWriteFailed is returned when a result cannot be persisted.
	ErrStoreWriteFailed = zerr.New("failed to write result")

	// ErrStoreDeleteFailed is returned when a persisted result cannot be removed.
	ErrStoreDeleteFailed = zerr.New("failed to delete result")

	// ErrTaskFailed is returned when an analysis task fails.
	ErrTaskFailed = zerr.New("task failed")

	// ErrParseFailed is returned when a module cannot be parsed.
	ErrParseFailed = zerr.New("parse failed")

	// ErrAnalysisFailed is returned when the analyzer reports an error for a module.
	ErrAnalysisFailed = zerr.New("analysis failed")

	// ErrPoisonMessage is returned when a message crashed its actor too many times and was discarded.
	ErrPoisonMessage = zerr.New("poison message discarded")

	// ErrRestartLimit is returned when an actor exceeded its restart limit and was stopped.
	ErrRestartLimit = zerr.New("restart limit exceeded")

	// ErrEscalated is returned when a failure was escalated past the root supervisor.
	ErrEscalated = zerr.New("failure escalated")

	// ErrActorStopped is returned when sending to a stopped actor.
	ErrActorStopped = zerr.New("actor stopped")

	// ErrMailboxFull is returned when a bounded mailbox cannot accept another message.
	ErrMailboxFull = zerr.New("mailbox full")

	// ErrAskTimeout is returned when a request did not receive a reply before its context ended.
	ErrAskTimeout = zerr.New("ask timed out")

	// ErrCancelled marks a task that reached the cancelled terminal state.
	ErrCancelled = zerr.New("cancelled")

	// ErrScopeClosed is returned when spawning into a scope that was already closed.
	ErrScopeClosed = zerr.New("scope closed")

	// ErrQueryCycle is returned when a query depends on itself.
	ErrQueryCycle = zerr.New("query cycle")

	// ErrUnknownQuery is returned when no function is registered for a query kind.
	ErrUnknownQuery = zerr.New("unknown query kind")

	// ErrInvalidPipeline is returned when a pipeline is constructed with invalid stages.
	ErrInvalidPipeline = zerr.New("invalid pipeline")

	// ErrConfigReadFailed is returned when the config file cannot be read.
	ErrConfigReadFailed = zerr.New("failed to read config file")

	// ErrConfigParseFailed is returned when the config file cannot be parsed.
	ErrConfigParseFailed = zerr.New("failed to parse config file")

	// ErrInvalidConfig is returned when a config value is out of range.
	ErrInvalidConfig = zerr.New("invalid config")

	// ErrSourceReadFailed is returned when a source file cannot be read.
	ErrSourceReadFailed = zerr.New("failed to read source")

	// ErrDuplicateModule is returned when two source files map to the same module name.
	ErrDuplicateModule = zerr.New("duplicate module name")

	// ErrEmitFailed is returned when a module interface cannot be written.
	ErrEmitFailed = zerr.New("failed to emit module interface")

	// ErrCheckFailed is returned when one or more modules failed during a check.
	ErrCheckFailed = zerr.New("check failed")

	// ErrWatchFailed is returned when watch mode cannot observe the source root.
	ErrWatchFailed = zerr.New("watch failed")
)

// IsCancellation reports whether err is a cancellation outcome rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
