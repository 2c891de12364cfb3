package domain

// Metric names emitted by the kernel.
const (
	MetricCacheHits            = "kiln.cache.hits"
	MetricCacheMisses          = "kiln.cache.misses"
	MetricCacheEvictions       = "kiln.cache.evictions"
	MetricCacheCollisions      = "kiln.cache.collisions"
	MetricCacheIntegrityErrors = "kiln.cache.integrity_errors"
	MetricCachePersistFailures = "kiln.cache.persist_failures"
	MetricCacheLoadFailures    = "kiln.cache.load_failures"
	MetricCacheResidentBytes   = "kiln.cache.resident_bytes"

	MetricQueryHits       = "kiln.query.hits"
	MetricQueryExecutions = "kiln.query.executions"
	MetricQueryCutoffs    = "kiln.query.cutoffs"
	MetricQueryDeduped    = "kiln.query.deduplicated"

	MetricActorCrashes  = "kiln.actor.crashes"
	MetricActorRestarts = "kiln.actor.restarts"
	MetricActorPoisoned = "kiln.actor.poison_messages"
	MetricActorReplaced = "kiln.actor.replacements"

	MetricPipelineBufferWait = "kiln.pipeline.buffer_wait"
	MetricPipelineItems      = "kiln.pipeline.items"

	MetricSchedulerTasks    = "kiln.scheduler.tasks"
	MetricSchedulerDuration = "kiln.scheduler.task_duration"
)

// Label is a metric dimension.
type Label struct {
	Key   string
	Value string
}

// L builds a Label.
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
