package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"SpotBridge/internal/arbiter"
	"SpotBridge/internal/calculator"
	"SpotBridge/internal/export"
	"SpotBridge/internal/model"
	"SpotBridge/internal/notifier"
	"SpotBridge/internal/percentile"
	"SpotBridge/internal/scheduler"
)

const menu = `
  i  show today's price statistics
  p  start or stop PLC synchronization
  x  export prices to CSV
  q  quit
`

// Source fetches a fresh price series.
type Source interface {
	Collect(ctx context.Context) (*model.PriceSeries, error)
}

// Syncer is the synchronization loop the console drives.
type Syncer interface {
	Start(ctx context.Context, trigger model.TriggerType) error
	Stop()
	State() scheduler.State
	Snapshot() *model.CycleReport
}

// Console is the interactive operator menu.
type Console struct {
	Source     Source
	Sync       Syncer
	Arbiter    *arbiter.Arbiter
	Cache      *percentile.Cache
	ExportPath string
	Log        *zap.SugaredLogger
	Now        func() time.Time

	in  io.Reader
	out io.Writer

	outMu    sync.Mutex
	paramsMu sync.Mutex
	params   model.PercentileParameters
}

// New creates a console reading from in and writing to out.
func New(in io.Reader, out io.Writer, src Source, syncer Syncer, arb *arbiter.Arbiter,
	cache *percentile.Cache, exportPath string, log *zap.SugaredLogger) *Console {
	params, ok := cache.Load()
	if !ok {
		params = model.DefaultPercentiles
	}
	return &Console{
		Source:     src,
		Sync:       syncer,
		Arbiter:    arb,
		Cache:      cache,
		ExportPath: exportPath,
		Log:        log,
		Now:        time.Now,
		in:         in,
		out:        out,
		params:     params,
	}
}

// Params returns the percentile thresholds currently in effect.
func (c *Console) Params() model.PercentileParameters {
	c.paramsMu.Lock()
	defer c.paramsMu.Unlock()
	return c.params
}

func (c *Console) setParams(p model.PercentileParameters) {
	c.paramsMu.Lock()
	c.params = p
	c.paramsMu.Unlock()
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// StartAuto starts unattended synchronization with cached or default thresholds.
// A failure leaves the operator in the menu.
func (c *Console) StartAuto(ctx context.Context) {
	params, _ := c.Cache.Resolve(true, nil)
	c.setParams(params)
	c.printf("\nNo input received, starting automatic synchronization (x=%.2f, y=%.2f).\n", params.X, params.Y)
	if err := c.Sync.Start(ctx, model.TriggerAuto); err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			c.Log.Infow("automatic start cancelled")
			return
		}
		c.Log.Errorw("automatic start failed", "error", err)
		c.printf("Automatic start failed: %s\nChoose an option from the menu.\n", notifier.Describe(err))
		return
	}
	c.printf("Synchronizing every hour. Type 'exit' to stop.\n")
}

// Run serves the menu until the operator quits, input ends or ctx is done.
// Any synchronization still running is stopped before it returns.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	defer c.Sync.Stop()

	c.printf("%s> ", menu)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			c.Arbiter.Disarm()
			quit, err := c.handle(ctx, strings.TrimSpace(strings.ToLower(line)), lines)
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				c.printf("Error: %s\n", notifier.Describe(err))
			}
			if quit || errors.Is(err, io.EOF) {
				return nil
			}
			c.printf("> ")
		}
	}
}

func (c *Console) readLine(ctx context.Context, lines <-chan string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

func (c *Console) handle(ctx context.Context, cmd string, lines <-chan string) (bool, error) {
	switch cmd {
	case "":
		return false, nil
	case "i":
		return false, c.showStatistics(ctx)
	case "p":
		if c.Sync.State().Active() {
			c.stopSync()
			return false, nil
		}
		return false, c.startSync(ctx, lines)
	case "exit":
		if c.Sync.State().Active() {
			c.stopSync()
		} else {
			c.printf("Synchronization is not running.\n")
		}
		return false, nil
	case "x":
		return false, c.export(ctx)
	case "q":
		c.printf("Quit? [y/N] ")
		answer, err := c.readLine(ctx, lines)
		if err != nil {
			return true, err
		}
		return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"), nil
	default:
		c.printf("Unknown option %q.%s", cmd, menu)
		return false, nil
	}
}

func (c *Console) stats(ctx context.Context) (*model.PriceSeries, *model.DerivedStatistics, error) {
	series, err := c.Source.Collect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return series, calculator.ComputeStatistics(series, c.Params(), c.Now()), nil
}

func (c *Console) showStatistics(ctx context.Context) error {
	_, stats, err := c.stats(ctx)
	if err != nil {
		return err
	}
	c.printf("%s", notifier.FormatStatistics(stats))
	if c.Sync.State().Active() {
		c.printf("%s", notifier.FormatCycleReport(c.Sync.Snapshot()))
	}
	return nil
}

func (c *Console) export(ctx context.Context) error {
	series, stats, err := c.stats(ctx)
	if err != nil {
		return err
	}
	if err := export.WritePricesCSV(c.ExportPath, series, stats); err != nil {
		return err
	}
	c.printf("Prices written to %s\n", c.ExportPath)
	return nil
}

func (c *Console) stopSync() {
	c.Sync.Stop()
	c.printf("Synchronization stopped.\n")
}

func (c *Console) startSync(ctx context.Context, lines <-chan string) error {
	params, err := c.Cache.Resolve(false, func(last model.PercentileParameters) (model.PercentileParameters, error) {
		return c.promptParams(ctx, lines, last)
	})
	if err != nil {
		return err
	}
	c.setParams(params)

	for {
		err := c.Sync.Start(ctx, model.TriggerOperator)
		if err == nil {
			c.printf("Synchronizing every hour. Type 'exit' to stop.\n")
			return nil
		}
		if errors.Is(err, scheduler.ErrAlreadyRunning) || errors.Is(err, scheduler.ErrStopped) {
			return err
		}
		c.printf("Could not connect to the PLC: %s\n[r]etry or [a]bandon? ", notifier.Describe(err))
		answer, rerr := c.readLine(ctx, lines)
		if rerr != nil {
			return rerr
		}
		if !strings.EqualFold(answer, "r") && !strings.EqualFold(answer, "retry") {
			c.printf("Synchronization abandoned.\n")
			return nil
		}
	}
}

func (c *Console) promptParams(ctx context.Context, lines <-chan string, last model.PercentileParameters) (model.PercentileParameters, error) {
	x, err := c.promptFraction(ctx, lines, "Top fraction x", last.X)
	if err != nil {
		return model.PercentileParameters{}, err
	}
	y, err := c.promptFraction(ctx, lines, "Bottom fraction y", last.Y)
	if err != nil {
		return model.PercentileParameters{}, err
	}
	return model.PercentileParameters{X: x, Y: y}, nil
}

func (c *Console) promptFraction(ctx context.Context, lines <-chan string, label string, def float64) (float64, error) {
	for {
		c.printf("%s between 0 and 1 [%g]: ", label, def)
		answer, err := c.readLine(ctx, lines)
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return def, nil
		}
		v, err := strconv.ParseFloat(strings.Replace(answer, ",", ".", 1), 64)
		if err == nil && model.ValidFraction(v) {
			return v, nil
		}
		c.printf("Please enter a number between 0 and 1.\n")
	}
}
