package app_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/adapters/lang"
	"go.trai.ch/kiln/internal/adapters/store"
	"go.trai.ch/kiln/internal/app"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/zerr"
	"go.uber.org/mock/gomock"
)

// chain is A -> B -> C plus the unrelated D.
var chain = map[string]string{
	"a.kl": "import b\ndef main\nuse b.mid\n",
	"b.kl": "import c\ndef mid\nuse c.helper\n",
	"c.kl": "def helper\n",
	"d.kl": "def solo\n",
}

// recording wraps the analyzer and remembers the order modules started in.
type recording struct {
	inner ports.Analyzer

	mu    sync.Mutex
	order []string
}

func (r *recording) Analyze(ctx context.Context, ast *domain.AST, read ports.ReadFunc) (*domain.AnalysisResult, error) {
	res, err := r.inner.Analyze(ctx, ast, read)
	r.mu.Lock()
	r.order = append(r.order, ast.Name)
	r.mu.Unlock()
	return res, err
}

func (r *recording) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.order
	r.order = nil
	return out
}

func writeProject(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
}

type fixture struct {
	dir      string
	cfg      *domain.Config
	analyzer *recording
	session  *app.Session
}

func newFixture(t *testing.T, files map[string]string, store ports.ResultStore, preset domain.Preset) *fixture {
	t.Helper()
	dir := t.TempDir()
	writeProject(t, dir, files)

	cfg := domain.DefaultConfig()
	cfg.SourceRoot = dir
	cfg.Workers = 4
	cfg.Preset = preset
	f := &fixture{dir: dir, cfg: &cfg, analyzer: &recording{inner: lang.NewAnalyzer()}}
	f.session = f.open(t, store)
	return f
}

func (f *fixture) open(t *testing.T, store ports.ResultStore) *app.Session {
	t.Helper()
	return app.NewSession(f.cfg, fs.NewSource(fs.NewWalker()), lang.NewParser(), f.analyzer, store,
		app.WithOutDir(filepath.Join(f.dir, domain.DefaultOutPath())))
}

func (f *fixture) check(t *testing.T) *domain.Report {
	t.Helper()
	ctx := context.Background()
	paths, err := f.session.Discover(ctx)
	require.NoError(t, err)
	report, err := f.session.Check(ctx, paths, nil)
	require.NoError(t, err)
	return report
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	writeProject(t, f.dir, map[string]string{name: content})
}

func outcome(t *testing.T, report *domain.Report, name string) *domain.ModuleOutcome {
	t.Helper()
	o, ok := report.Outcomes[domain.NewModuleID(name)]
	require.True(t, ok, "no outcome for %s", name)
	return o
}

func cachedSet(report *domain.Report) map[string]bool {
	out := make(map[string]bool, len(report.Outcomes))
	for _, o := range report.Outcomes {
		out[o.Name] = o.Cached
	}
	return out
}

func TestSession_ChainFresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chain, nil, domain.PresetCheckOnly)

	report := f.check(t)
	require.True(t, report.OK())
	assert.Equal(t, 4, report.Stats.Modules)
	assert.Equal(t, 4, report.Stats.Checked)
	assert.Zero(t, report.Stats.Cached)

	order := f.analyzer.take()
	require.Len(t, order, 4)
	assert.Less(t, slices.Index(order, "c"), slices.Index(order, "b"))
	assert.Less(t, slices.Index(order, "b"), slices.Index(order, "a"))

	assert.Equal(t, []string{"mid"}, outcome(t, report, "b").Result.Exports)
	assert.Equal(t, []domain.ModuleID{domain.NewModuleID("c")}, outcome(t, report, "b").Result.Reads)

	layers := f.session.Layers()
	require.Len(t, layers, 3)
	assert.ElementsMatch(t, []string{"c", "d"}, layers[0])
	assert.Equal(t, []string{"b"}, layers[1])
	assert.Equal(t, []string{"a"}, layers[2])
}

func TestSession_SecondRunIsCached(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chain, nil, domain.PresetCheckOnly)
	f.check(t)
	f.analyzer.take()
	before := f.session.Engine().Stats().Executions

	report := f.check(t)
	assert.Equal(t, 4, report.Stats.Cached)
	assert.Zero(t, report.Stats.Checked)
	assert.Empty(t, f.analyzer.take())
	assert.Equal(t, before, f.session.Engine().Stats().Executions)
}

func TestSession_LayoutEditIsCutOff(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chain, nil, domain.PresetCheckOnly)
	f.check(t)
	f.analyzer.take()
	before := f.session.Engine().Stats().Executions

	f.write(t, "c.kl", "# the leaf\n\ndef   helper\n")
	report := f.check(t)

	require.True(t, report.OK())
	assert.Equal(t, 4, report.Stats.Cached)
	assert.Empty(t, f.analyzer.take())
	// Only the parse of c runs again.
	assert.Equal(t, before+1, f.session.Engine().Stats().Executions)
}

func TestSession_LeafEditRecomputesDependents(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chain, nil, domain.PresetCheckOnly)
	f.check(t)
	f.analyzer.take()

	assert.Equal(t, []string{"a", "b", "c"}, f.session.Changed([]string{"c.kl"}))

	f.write(t, "c.kl", "def helper2\n")
	report := f.check(t)

	assert.Equal(t, map[string]bool{"a": false, "b": false, "c": false, "d": true}, cachedSet(report))
	order := f.analyzer.take()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, order)
	assert.NotContains(t, order, "d")

	b := outcome(t, report, "b")
	require.True(t, b.Result.HasErrors())
	assert.Equal(t, "c has no export helper", b.Result.Diagnostics[0].Message)
	assert.False(t, report.OK())
}

func TestSession_EqualResultStopsPropagation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chain, nil, domain.PresetCheckOnly)
	f.check(t)
	f.analyzer.take()

	// c gains an export; b's result is unchanged so a is confirmed as is.
	f.write(t, "c.kl", "def helper\ndef extra\n")
	report := f.check(t)

	require.True(t, report.OK())
	assert.Equal(t, map[string]bool{"a": true, "b": false, "c": false, "d": true}, cachedSet(report))
	assert.ElementsMatch(t, []string{"b", "c"}, f.analyzer.take())
}

func TestSession_FailureIsolation(t *testing.T) {
	t.Parallel()
	files := maps(chain)
	files["b.kl"] = "import c\nthis is broken\n"
	f := newFixture(t, files, nil, domain.PresetCheckOnly)

	report := f.check(t)
	assert.False(t, report.OK())

	b := outcome(t, report, "b")
	assert.Equal(t, domain.TaskFailed, b.Status)
	assert.ErrorIs(t, b.Cause, domain.ErrParseFailed)

	a := outcome(t, report, "a")
	assert.Equal(t, domain.TaskSkipped, a.Status)
	assert.ErrorIs(t, a.Cause, domain.ErrDependencyFailed)

	assert.Equal(t, domain.TaskDone, outcome(t, report, "c").Status)
	assert.Equal(t, domain.TaskDone, outcome(t, report, "d").Status)
	assert.Equal(t, 1, report.Stats.Failed)
	assert.Equal(t, 1, report.Stats.Skipped)
}

func TestSession_MissingImport(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"a.kl": "import ghost\nuse ghost.x\n",
		"d.kl": "def solo\n",
	}, nil, domain.PresetCheckOnly)

	report := f.check(t)
	a := outcome(t, report, "a")
	assert.Equal(t, domain.TaskFailed, a.Status)
	assert.ErrorIs(t, a.Cause, domain.ErrMissingDependency)
	assert.Equal(t, domain.TaskDone, outcome(t, report, "d").Status)
}

func TestSession_Cycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"x.kl": "import y\ndef a\n",
		"y.kl": "import x\ndef b\n",
		"z.kl": "def c\n",
	}, nil, domain.PresetCheckOnly)

	report := f.check(t)
	assert.False(t, report.OK())
	assert.Equal(t, 2, report.Stats.Failed+report.Stats.Skipped)
	assert.Equal(t, domain.TaskDone, outcome(t, report, "z").Status)

	var cycle bool
	for _, o := range report.Failures() {
		cycle = cycle || errors.Is(o.Cause, domain.ErrCycleDetected)
	}
	assert.True(t, cycle)
}

func TestSession_RemovedModule(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chain, nil, domain.PresetCheckOnly)
	f.check(t)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "d.kl")))
	report := f.check(t)

	assert.Equal(t, 3, report.Stats.Modules)
	_, ok := f.session.Graph().Module(domain.NewModuleID("d"))
	assert.False(t, ok)
	for _, layer := range f.session.Layers() {
		assert.NotContains(t, layer, "d")
	}
}

func TestSession_DuplicateModuleName(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"m.kl":  "def one\n",
		"m.kli": "def two\n",
		"n.kl":  "def three\n",
	}, nil, domain.PresetCheckOnly)
	f.cfg.Extensions = []string{".kl", ".kli"}

	report := f.check(t)
	m := outcome(t, report, "m")
	assert.Equal(t, domain.TaskFailed, m.Status)
	assert.ErrorIs(t, m.Cause, domain.ErrDuplicateModule)
	assert.Equal(t, domain.TaskDone, outcome(t, report, "n").Status)
	assert.Equal(t, 2, report.Stats.Modules)
}

func TestSession_Emit(t *testing.T) {
	t.Parallel()
	files := maps(chain)
	files["e.kl"] = "use e.nothing\n"
	f := newFixture(t, files, nil, domain.PresetStandard)

	f.check(t)
	out := filepath.Join(f.dir, domain.DefaultOutPath())

	data, err := os.ReadFile(filepath.Join(out, "b"+domain.InterfaceExt))
	require.NoError(t, err)
	assert.Equal(t, "module b\ndef mid\n", string(data))

	// Modules with errors emit nothing.
	_, err = os.Stat(filepath.Join(out, "e"+domain.InterfaceExt))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSession_PersistentStore(t *testing.T) {
	t.Parallel()
	storeDir := t.TempDir()
	results, err := store.NewOpener(nil).Open(domain.StoreFile, storeDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })

	f := newFixture(t, chain, results, domain.PresetCheckOnly)
	f.check(t)
	f.analyzer.take()

	// A fresh session on the same store decodes every result.
	f.session = f.open(t, results)
	report := f.check(t)
	assert.Equal(t, 4, report.Stats.Cached)
	assert.Empty(t, f.analyzer.take())

	usage, err := results.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), usage.Entries)
}

func TestSession_ChangedIncludesNewFiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chain, nil, domain.PresetCheckOnly)
	f.check(t)

	assert.Equal(t, []string{"a", "b"}, f.session.Changed([]string{filepath.Join(f.dir, "b.kl")}))
	assert.Equal(t, []string{"d", "new"}, f.session.Changed([]string{"d.kl", "new.kl"}))
	assert.Empty(t, f.session.Changed([]string{"/elsewhere/x.kl"}))
}

func TestSession_CancelledCheck(t *testing.T) {
	t.Parallel()
	f := newFixture(t, chain, nil, domain.PresetCheckOnly)
	paths, err := f.session.Discover(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := f.session.Check(ctx, paths, nil)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Zero(t, report.Stats.Checked)
}

// failing rejects every module whose name starts with "bad".
type failing struct {
	inner ports.Analyzer
}

func (f failing) Analyze(ctx context.Context, ast *domain.AST, read ports.ReadFunc) (*domain.AnalysisResult, error) {
	if strings.HasPrefix(ast.Name, "bad") {
		return nil, zerr.Wrap(domain.ErrAnalysisFailed, ast.Name)
	}
	return f.inner.Analyze(ctx, ast, read)
}

func TestSession_ManyFailuresLeaveHealthyModulesAlone(t *testing.T) {
	t.Parallel()
	files := make(map[string]string)
	for i := range 10 {
		files[fmt.Sprintf("bad%02d.kl", i)] = "def x\n"
	}
	for i := range 5 {
		files[fmt.Sprintf("good%d.kl", i)] = "def y\n"
	}
	f := newFixture(t, files, nil, domain.PresetCheckOnly)
	// One checker actor takes every crash, more than one restart budget.
	f.cfg.Workers = 1
	f.analyzer.inner = failing{inner: lang.NewAnalyzer()}

	report := f.check(t)
	assert.Equal(t, 15, report.Stats.Modules)
	assert.Equal(t, 10, report.Stats.Failed)
	for i := range 10 {
		o := outcome(t, report, fmt.Sprintf("bad%02d", i))
		assert.Equal(t, domain.TaskFailed, o.Status, o.Name)
		require.ErrorIs(t, o.Cause, domain.ErrPoisonMessage, o.Name)
		assert.NotErrorIs(t, o.Cause, domain.ErrActorStopped, o.Name)
	}
	for i := range 5 {
		o := outcome(t, report, fmt.Sprintf("good%d", i))
		assert.Equal(t, domain.TaskDone, o.Status, o.Name)
		assert.NoError(t, o.Cause, o.Name)
	}
}

func TestSession_ReleaseLogsEveryError(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Warn("supervisor stop").Times(1)
	log.EXPECT().Warn("scope close").Times(1)

	cfg := domain.DefaultConfig()
	cfg.SourceRoot = t.TempDir()
	session := app.NewSession(&cfg, fs.NewSource(fs.NewWalker()), lang.NewParser(), lang.NewAnalyzer(), nil,
		app.WithLogger(log))

	var ran []string
	step := func(name string, err error) func() error {
		return func() error {
			ran = append(ran, name)
			return err
		}
	}
	session.Release(
		step("stop", errors.New("supervisor stop")),
		step("err", nil),
		step("close", errors.New("scope close")),
	)
	assert.Equal(t, []string{"stop", "err", "close"}, ran)
}

func maps(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
