package domain

import (
	"runtime"
	"time"
)

// Checkpoint selects where running work observes cancellation.
type Checkpoint string

const (
	// CheckpointQuery checks at every query boundary and buffer wait.
	CheckpointQuery Checkpoint = "query"
	// CheckpointStage checks at buffer waits and task boundaries.
	CheckpointStage Checkpoint = "stage"
	// CheckpointTask checks only when a task starts.
	CheckpointTask Checkpoint = "task"
)

// Strategy is a supervision restart policy.
type Strategy string

const (
	// OneForOne restarts only the failed actor.
	OneForOne Strategy = "one-for-one"
	// AllForOne restarts every actor of the supervisor.
	AllForOne Strategy = "all-for-one"
	// Escalate hands the failure to the parent supervisor.
	Escalate Strategy = "escalate"
)

// Preset selects the pipeline stage list.
type Preset string

const (
	// PresetStandard reads, parses, records, checks and emits.
	PresetStandard Preset = "standard"
	// PresetCheckOnly skips the emit stage.
	PresetCheckOnly Preset = "check-only"
	// PresetFast skips the emit stage and parse fingerprinting.
	PresetFast Preset = "fast"
)

// StoreBackend selects the persistent result store.
type StoreBackend string

const (
	// StoreFile keeps one file per result.
	StoreFile StoreBackend = "file"
	// StoreBadger keeps results in a badger database.
	StoreBadger StoreBackend = "badger"
	// StoreSQLite keeps results in a sqlite database.
	StoreSQLite StoreBackend = "sqlite"
	// StoreNone disables persistence.
	StoreNone StoreBackend = "none"
)

// MetricsSink selects the metrics adapter.
type MetricsSink string

const (
	// MetricsOTel records through OpenTelemetry.
	MetricsOTel MetricsSink = "otel"
	// MetricsPrometheus records into a Prometheus registry.
	MetricsPrometheus MetricsSink = "prometheus"
	// MetricsNone drops every measurement.
	MetricsNone MetricsSink = "none"
)

// Config is the configuration surface of the kernel.
type Config struct {
	Project string

	SourceRoot string
	Extensions []string

	// Workers is the scheduler pool size; zero means one per CPU.
	Workers    int
	Checkpoint Checkpoint
	Preset     Preset

	CacheBudget   int64
	CacheLowWater float64

	StoreBackend StoreBackend
	StorePath    string

	ReadBuffer     int
	ParseBuffer    int
	RecordBuffer   int
	EmitBuffer     int
	StageWorkers   int
	Strategy       Strategy
	PoisonLimit    int
	MaxRestarts    int
	RestartWindow  time.Duration
	MailboxSize    int
	MetricsSink    MetricsSink
	WatchDebounce  time.Duration
	MetricsAddress string
}

// Default values of the configuration surface.
const (
	DefaultCacheBudget   = 64 << 20
	DefaultCacheLowWater = 0.75
	DefaultBuffer        = 16
	DefaultStageWorkers  = 2
	DefaultPoisonLimit   = 2
	DefaultMaxRestarts   = 16
	DefaultRestartWindow = time.Second
	DefaultWatchDebounce = 100 * time.Millisecond
	DefaultExtension     = ".kl"
	DefaultSourceRoot    = "."
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		SourceRoot:    DefaultSourceRoot,
		Extensions:    []string{DefaultExtension},
		Checkpoint:    CheckpointQuery,
		Preset:        PresetStandard,
		CacheBudget:   DefaultCacheBudget,
		CacheLowWater: DefaultCacheLowWater,
		StoreBackend:  StoreFile,
		StorePath:     DefaultStorePath(),
		ReadBuffer:    DefaultBuffer,
		ParseBuffer:   DefaultBuffer,
		RecordBuffer:  DefaultBuffer,
		EmitBuffer:    DefaultBuffer,
		StageWorkers:  DefaultStageWorkers,
		Strategy:      OneForOne,
		PoisonLimit:   DefaultPoisonLimit,
		MaxRestarts:   DefaultMaxRestarts,
		RestartWindow: DefaultRestartWindow,
		MetricsSink:   MetricsOTel,
		WatchDebounce: DefaultWatchDebounce,
	}
}

// WorkerCount resolves the configured pool size.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
