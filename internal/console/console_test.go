package console

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SpotBridge/internal/arbiter"
	"SpotBridge/internal/collector"
	"SpotBridge/internal/logging"
	"SpotBridge/internal/model"
	"SpotBridge/internal/percentile"
	"SpotBridge/internal/scheduler"
)

var now = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

type fakeSyncer struct {
	mu       sync.Mutex
	state    scheduler.State
	errs     []error
	triggers []model.TriggerType
	stops    int
}

func (f *fakeSyncer) Start(_ context.Context, trigger model.TriggerType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.state = scheduler.Waiting
	return nil
}

func (f *fakeSyncer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.state.Active() {
		f.state = scheduler.Stopped
	}
}

func (f *fakeSyncer) State() scheduler.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSyncer) Snapshot() *model.CycleReport { return nil }

type fixture struct {
	con   *Console
	sync  *fakeSyncer
	cache *percentile.Cache
	out   *bytes.Buffer
	dir   string
}

func newFixture(t *testing.T, input string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		sync:  &fakeSyncer{},
		cache: percentile.NewCache(filepath.Join(dir, "percentiles_cache.bin"), logging.Nop()),
		out:   &bytes.Buffer{},
		dir:   dir,
	}
	feed := &collector.MockFetcher{Rate: decimal.RequireFromString("0.134"), Series: collector.GenerateMockSeries(now, 500)}
	f.con = New(strings.NewReader(input), f.out, collector.NewCollector(feed, logging.Nop()), f.sync,
		arbiter.New(), f.cache, filepath.Join(dir, "SpotPrices.csv"), logging.Nop())
	f.con.Now = func() time.Time { return now }
	return f
}

func (f *fixture) run(t *testing.T) string {
	t.Helper()
	require.NoError(t, f.con.Run(context.Background()))
	f.con.outMu.Lock()
	defer f.con.outMu.Unlock()
	return f.out.String()
}

func TestConsole_StartWithPromptedParamsThenExit(t *testing.T) {
	f := newFixture(t, "p\n0.8\n0.2\nexit\nq\ny\n")
	out := f.run(t)

	assert.Equal(t, []model.TriggerType{model.TriggerOperator}, f.sync.triggers)
	assert.Equal(t, model.PercentileParameters{X: 0.8, Y: 0.2}, f.con.Params())
	assert.Contains(t, out, "Synchronizing every hour")
	assert.Contains(t, out, "Synchronization stopped.")

	cached, ok := f.cache.Load()
	require.True(t, ok)
	assert.Equal(t, model.PercentileParameters{X: 0.8, Y: 0.2}, cached)
}

func TestConsole_PromptDefaultsAndRetry(t *testing.T) {
	f := newFixture(t, "p\n\n\nr\nq\ny\n")
	f.sync.errs = []error{errors.New("connection refused"), nil}
	out := f.run(t)

	assert.Len(t, f.sync.triggers, 2)
	assert.Equal(t, model.DefaultPercentiles, f.con.Params())
	assert.Contains(t, out, "Could not connect to the PLC: connection refused")
	assert.Contains(t, out, "Synchronizing every hour")
}

func TestConsole_AbandonAfterConnectFailure(t *testing.T) {
	f := newFixture(t, "p\n\n\na\n")
	f.sync.errs = []error{errors.New("no route to host")}
	out := f.run(t)

	assert.Len(t, f.sync.triggers, 1)
	assert.Contains(t, out, "Synchronization abandoned.")
	assert.False(t, f.sync.State().Active())
}

func TestConsole_RejectsOutOfRangeFraction(t *testing.T) {
	f := newFixture(t, "p\n2\n0.5\n0,1\n")
	out := f.run(t)

	assert.Contains(t, out, "Please enter a number between 0 and 1.")
	assert.Equal(t, model.PercentileParameters{X: 0.5, Y: 0.1}, f.con.Params())
}

func TestConsole_PToggleStops(t *testing.T) {
	f := newFixture(t, "p\n\n\np\n")
	f.run(t)
	assert.Len(t, f.sync.triggers, 1)
	assert.Equal(t, scheduler.Stopped, f.sync.State())
}

func TestConsole_ShowStatistics(t *testing.T) {
	out := newFixture(t, "i\n").run(t)
	assert.Contains(t, out, "Lowest price")
	assert.Contains(t, out, "Current hour (DK1)")
}

func TestConsole_Export(t *testing.T) {
	f := newFixture(t, "x\n")
	out := f.run(t)
	assert.Contains(t, out, "Prices written to")
	data, err := os.ReadFile(filepath.Join(f.dir, "SpotPrices.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "hour_dk,price_area"))
}

func TestConsole_QuitNeedsConfirmation(t *testing.T) {
	out := newFixture(t, "q\nn\nzz\n").run(t)
	assert.Contains(t, out, "Quit? [y/N]")
	assert.Contains(t, out, `Unknown option "zz"`)
}

func TestConsole_InputDisarmsArbiter(t *testing.T) {
	f := newFixture(t, "q\ny\n")
	fired := make(chan struct{}, 1)
	f.con.Arbiter.Arm(time.Hour, func() { fired <- struct{}{} })
	f.run(t)
	assert.Equal(t, arbiter.Disarmed, f.con.Arbiter.State())
	assert.Empty(t, fired)
}

func TestConsole_StartAuto(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.cache.Save(model.PercentileParameters{X: 0.9, Y: 0.1}))
	f.con.StartAuto(context.Background())

	assert.Equal(t, []model.TriggerType{model.TriggerAuto}, f.sync.triggers)
	assert.Equal(t, model.PercentileParameters{X: 0.9, Y: 0.1}, f.con.Params())
	assert.Contains(t, f.out.String(), "starting automatic synchronization")
}

func TestConsole_StartAutoFailureFallsBackToMenu(t *testing.T) {
	f := newFixture(t, "")
	f.sync.errs = []error{errors.New("connection refused")}
	f.con.StartAuto(context.Background())
	assert.Contains(t, f.out.String(), "Automatic start failed")
	assert.False(t, f.sync.State().Active())
}

func TestConsole_StartAutoStoppedWhileConnecting(t *testing.T) {
	f := newFixture(t, "")
	f.sync.errs = []error{scheduler.ErrStopped}
	f.con.StartAuto(context.Background())
	assert.NotContains(t, f.out.String(), "Automatic start failed")
	assert.NotContains(t, f.out.String(), "Synchronizing every hour")
}
