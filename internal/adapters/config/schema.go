package config

import "time"

// Kilnfile represents the structure of the kiln.yaml configuration file.
type Kilnfile struct {
	Project     string          `yaml:"project"`
	Sources     *SourcesDTO     `yaml:"sources"`
	Engine      *EngineDTO      `yaml:"engine"`
	Cache       *CacheDTO       `yaml:"cache"`
	Store       *StoreDTO       `yaml:"store"`
	Pipeline    *PipelineDTO    `yaml:"pipeline"`
	Supervision *SupervisionDTO `yaml:"supervision"`
	Metrics     *MetricsDTO     `yaml:"metrics"`
	Watch       *WatchDTO       `yaml:"watch"`
}

// SourcesDTO selects the files that form the module graph.
type SourcesDTO struct {
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"`
}

// EngineDTO configures the scheduler and query engine.
type EngineDTO struct {
	Workers    *int   `yaml:"workers"`
	Checkpoint string `yaml:"checkpoint"`
	Preset     string `yaml:"preset"`
}

// CacheDTO configures the in-memory result cache.
type CacheDTO struct {
	Budget   *Size    `yaml:"budget"`
	LowWater *float64 `yaml:"low_water"`
}

// StoreDTO configures the persistent result store.
type StoreDTO struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// PipelineDTO sizes the pipeline buffers.
type PipelineDTO struct {
	Read    *int `yaml:"read"`
	Parse   *int `yaml:"parse"`
	Record  *int `yaml:"record"`
	Emit    *int `yaml:"emit"`
	Workers *int `yaml:"workers"`
}

// SupervisionDTO configures the actor supervisor.
type SupervisionDTO struct {
	Strategy      string         `yaml:"strategy"`
	PoisonLimit   *int           `yaml:"poison_limit"`
	MaxRestarts   *int           `yaml:"max_restarts"`
	RestartWindow *time.Duration `yaml:"restart_window"`
	Mailbox       *int           `yaml:"mailbox"`
}

// MetricsDTO selects the metrics sink.
type MetricsDTO struct {
	Sink    string `yaml:"sink"`
	Address string `yaml:"address"`
}

// WatchDTO configures watch mode.
type WatchDTO struct {
	Debounce *time.Duration `yaml:"debounce"`
}
