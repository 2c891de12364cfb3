package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/config"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, domain.ConfigFileName), []byte(content), 0o600))
	return dir
}

func TestLoad_Full(t *testing.T) {
	dir := writeConfig(t, `
project: demo
sources: {root: src, extensions: ["kl", ".kli"]}
engine:  {workers: 3, checkpoint: stage, preset: fast}
cache:   {budget: 8MiB, low_water: 0.5}
store:   {backend: sqlite, path: /var/cache/kiln}
pipeline: {read: 4, parse: 5, record: 6, emit: 7, workers: 1}
supervision: {strategy: all-for-one, poison_limit: 3, max_restarts: 4, restart_window: 2s, mailbox: 32}
metrics: {sink: prometheus, address: ":9090"}
watch: {debounce: 250ms}
`)
	cfg, err := config.NewLoader(nil).Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Project)
	assert.Equal(t, filepath.Join(dir, "src"), cfg.SourceRoot)
	assert.Equal(t, []string{".kl", ".kli"}, cfg.Extensions)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, domain.CheckpointStage, cfg.Checkpoint)
	assert.Equal(t, domain.PresetFast, cfg.Preset)
	assert.Equal(t, int64(8<<20), cfg.CacheBudget)
	assert.InDelta(t, 0.5, cfg.CacheLowWater, 1e-9)
	assert.Equal(t, domain.StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, "/var/cache/kiln", cfg.StorePath)
	assert.Equal(t, []int{4, 5, 6, 7, 1},
		[]int{cfg.ReadBuffer, cfg.ParseBuffer, cfg.RecordBuffer, cfg.EmitBuffer, cfg.StageWorkers})
	assert.Equal(t, domain.AllForOne, cfg.Strategy)
	assert.Equal(t, 3, cfg.PoisonLimit)
	assert.Equal(t, 4, cfg.MaxRestarts)
	assert.Equal(t, 2*time.Second, cfg.RestartWindow)
	assert.Equal(t, 32, cfg.MailboxSize)
	assert.Equal(t, domain.MetricsPrometheus, cfg.MetricsSink)
	assert.Equal(t, ":9090", cfg.MetricsAddress)
	assert.Equal(t, 250*time.Millisecond, cfg.WatchDebounce)
}

func TestLoad_Partial(t *testing.T) {
	dir := writeConfig(t, "project: small\ncache: {budget: 0}\n")
	cfg, err := config.NewLoader(nil).Load(dir)
	require.NoError(t, err)

	def := domain.DefaultConfig()
	assert.Equal(t, "small", cfg.Project)
	assert.Zero(t, cfg.CacheBudget, "an explicit zero budget means unbounded")
	assert.Equal(t, def.Preset, cfg.Preset)
	assert.Equal(t, def.Extensions, cfg.Extensions)
	assert.Equal(t, filepath.Join(dir, domain.DefaultStorePath()), cfg.StorePath)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any())

	dir := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.Mkdir(dir, 0o750))

	cfg, err := config.NewLoader(log).Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "proj", cfg.Project)
	assert.Equal(t, domain.StoreFile, cfg.StoreBackend)
	assert.Equal(t, filepath.Join(dir, "."), cfg.SourceRoot)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]struct {
		content string
		is      error
		msg     string
	}{
		"bad yaml":       {content: "project: [", msg: domain.ErrConfigParseFailed.Error()},
		"bad size":       {content: "cache: {budget: lots}", is: domain.ErrInvalidConfig},
		"bad checkpoint": {content: "engine: {checkpoint: sometimes}", is: domain.ErrInvalidConfig},
		"bad preset":     {content: "engine: {preset: turbo}", is: domain.ErrInvalidConfig},
		"bad backend":    {content: "store: {backend: tape}", is: domain.ErrInvalidConfig},
		"bad strategy":   {content: "supervision: {strategy: none-for-all}", is: domain.ErrInvalidConfig},
		"bad low water":  {content: "cache: {low_water: 1.5}", is: domain.ErrInvalidConfig},
		"bad buffer":     {content: "pipeline: {read: 0}", is: domain.ErrInvalidConfig},
		"bad project":    {content: "project: 'has space'", is: domain.ErrInvalidConfig},
		"bad sink":       {content: "metrics: {sink: statsd}", is: domain.ErrInvalidConfig},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.NewLoader(nil).Load(writeConfig(t, tt.content))
			require.Error(t, err)
			if tt.is != nil {
				require.ErrorIs(t, err, tt.is)
			}
			if tt.msg != "" {
				assert.ErrorContains(t, err, tt.msg)
			}
		})
	}
}

func TestLoad_UnreadableFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, domain.ConfigFileName), 0o750))
	_, err := config.NewLoader(nil).Load(dir)
	assert.ErrorContains(t, err, domain.ErrConfigReadFailed.Error())
}

func TestParseSize(t *testing.T) {
	tests := map[string]config.Size{
		"0":      0,
		"4096":   4096,
		"12B":    12,
		"512KiB": 512 << 10,
		"64MiB":  64 << 20,
		"2 GiB":  2 << 30,
	}
	for in, want := range tests {
		got, err := config.ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "MiB", "-1", "1.5MiB", "10TB"} {
		_, err := config.ParseSize(in)
		require.ErrorIs(t, err, domain.ErrInvalidConfig, in)
	}
}
