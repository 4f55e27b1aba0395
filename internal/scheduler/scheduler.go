package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"SpotBridge/internal/calculator"
	"SpotBridge/internal/model"
	"SpotBridge/internal/notifier"
	"SpotBridge/internal/recorder"
)

var (
	// ErrAlreadyRunning is returned when a second synchronization is requested.
	ErrAlreadyRunning = errors.New("synchronization already running")
	// ErrStopped is returned by Start when it was stopped before the loop began.
	ErrStopped = errors.New("synchronization stopped before it started")
)

// State of the synchronization loop.
type State int

const (
	Idle State = iota
	Connecting
	Running
	Cycling
	Waiting
	Stopped
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Cycling:
		return "cycling"
	case Waiting:
		return "waiting"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Active reports whether a loop owns a session in this state.
func (s State) Active() bool {
	return s == Connecting || s == Running || s == Cycling || s == Waiting
}

// Source acquires the price series for a cycle.
type Source interface {
	Collect(ctx context.Context) (*model.PriceSeries, error)
}

// Session is the open controller link a loop writes through.
type Session interface {
	WriteAll(ctx context.Context, values model.RegisterValues) []model.WriteResult
	Close() error
}

// Opener connects to the controller.
type Opener func(ctx context.Context) (Session, error)

// Scheduler runs acquire-compute-write cycles at every schedule boundary.
type Scheduler struct {
	Source    Source
	Open      Opener
	Registers model.RegisterMap
	Schedule  cron.Schedule
	Recorder  recorder.Recorder
	Notifier  notifier.Notifier
	Log       *zap.SugaredLogger

	// Params supplies the percentile thresholds for each cycle.
	Params func() model.PercentileParameters

	// Now and Timer are replaced in tests.
	Now   func() time.Time
	Timer func(d time.Duration) (<-chan time.Time, func() bool)

	mu     sync.Mutex
	state  State
	last   *model.CycleReport
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
}

// NewScheduler creates an idle scheduler with real clock and timers.
func NewScheduler(src Source, open Opener, regs model.RegisterMap, schedule cron.Schedule,
	rec recorder.Recorder, n notifier.Notifier, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		Source:    src,
		Open:      open,
		Registers: regs,
		Schedule:  schedule,
		Recorder:  rec,
		Notifier:  n,
		Log:       log,
		Params:    func() model.PercentileParameters { return model.DefaultPercentiles },
		Now:       time.Now,
		Timer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
}

// State returns the current loop state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.Log.Debugw("scheduler state", "from", prev.String(), "to", st.String())
	}
}

// Snapshot returns a copy of the most recent cycle report, or nil.
func (s *Scheduler) Snapshot() *model.CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// Start opens the controller session and launches the loop. Connection
// failures are returned to the caller and leave the scheduler idle. A Stop
// issued while connecting aborts the connection and Start returns ErrStopped.
func (s *Scheduler) Start(ctx context.Context, trigger model.TriggerType) error {
	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	wake := make(chan struct{}, 1)
	s.cancel, s.done, s.wake = cancel, done, wake
	s.state = Connecting
	s.mu.Unlock()
	s.Log.Infow("starting synchronization", "trigger", trigger)

	sess, err := s.Open(loopCtx)
	if err == nil && loopCtx.Err() != nil {
		if cerr := sess.Close(); cerr != nil {
			s.Log.Warnw("close plc session", "error", cerr)
		}
		err = loopCtx.Err()
	}
	if err != nil {
		stopped := loopCtx.Err() != nil
		cancel()
		if stopped {
			s.setState(Stopped)
			s.Log.Infow("synchronization stopped while connecting", "trigger", trigger)
		} else {
			s.setState(Idle)
		}
		close(done)
		if stopped {
			return ErrStopped
		}
		return fmt.Errorf("open plc session: %w", err)
	}

	s.setState(Running)
	go s.loop(loopCtx, sess, trigger, done, wake)
	return nil
}

// Stop ends the loop, waits for it to exit and closes the session. During
// Connecting it cancels the connection attempt. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// TriggerNow asks a waiting loop to run a cycle immediately. It reports
// whether a loop was there to receive the request.
func (s *Scheduler) TriggerNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Active() || s.wake == nil {
		return false
	}
	if s.state == Connecting {
		// the first cycle runs as soon as the connection is up
		return true
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Scheduler) loop(ctx context.Context, sess Session, trigger model.TriggerType, done chan struct{}, wake chan struct{}) {
	defer close(done)
	defer func() {
		if err := sess.Close(); err != nil {
			s.Log.Warnw("close plc session", "error", err)
		}
		s.setState(Stopped)
		s.Log.Info("synchronization stopped")
	}()

	// boundary is the last schedule time that fired. Waits are computed from
	// no earlier than it.
	var boundary time.Time
	for ctx.Err() == nil {
		s.setState(Cycling)
		s.runCycle(ctx, sess, trigger)
		if ctx.Err() != nil {
			return
		}

		now := s.Now()
		from := now
		if from.Before(boundary) {
			from = boundary
		}
		next := s.Schedule.Next(from)
		s.setState(Waiting)
		s.Log.Infow("waiting for next cycle", "next", next.Format(time.RFC3339), "in", next.Sub(now).Round(time.Second))

		c, stop := s.Timer(next.Sub(now))
		select {
		case <-ctx.Done():
			stop()
			return
		case <-wake:
			stop()
			trigger = model.TriggerManual
		case <-c:
			trigger = model.TriggerSchedule
			boundary = next
		}
	}
}

// RunOnce performs a single cycle with its own session.
func (s *Scheduler) RunOnce(ctx context.Context, trigger model.TriggerType) (*model.CycleReport, error) {
	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.state = Connecting
	s.mu.Unlock()
	defer s.setState(Idle)

	sess, err := s.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open plc session: %w", err)
	}
	defer sess.Close()

	s.setState(Cycling)
	return s.runCycle(ctx, sess, trigger), nil
}

func (s *Scheduler) runCycle(ctx context.Context, sess Session, trigger model.TriggerType) (rep *model.CycleReport) {
	rep = model.NewCycleReport(trigger, s.Now())
	log := s.Log.With("cycle", rep.ID.String(), "trigger", trigger)
	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("cycle panicked: %v", r)
		}
		rep.FinishedAt = s.Now()
		s.publish(ctx, log, rep)
	}()

	series, err := s.Source.Collect(ctx)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Series = series
	if err := ctx.Err(); err != nil {
		rep.Err = err
		return rep
	}

	rep.Stats = calculator.ComputeStatistics(series, s.Params(), s.Now())
	for _, e := range rep.Stats.Errors {
		log.Warnw("statistic unavailable", "error", e)
	}
	rep.Writes = sess.WriteAll(ctx, calculator.Registers(rep.Stats, s.Registers))
	return rep
}

func (s *Scheduler) publish(ctx context.Context, log *zap.SugaredLogger, rep *model.CycleReport) {
	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	if rep.Err != nil {
		log.Errorw("cycle failed", "error", rep.Err)
	} else {
		log.Infow("cycle complete", "written", rep.Succeeded(), "failed", rep.Failed(),
			"unavailable", rep.Unavailable(), "took", rep.FinishedAt.Sub(rep.StartedAt))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("cycle reporting panicked", "panic", r)
		}
	}()
	if err := s.Recorder.RecordCycle(rep); err != nil {
		log.Errorw("record cycle", "error", err)
	}
	if err := s.Notifier.NotifyCycle(ctx, rep); err != nil {
		log.Warnw("notify cycle", "error", err)
	}
}

// HandleCommand answers a chat command.
func (s *Scheduler) HandleCommand(command string) string {
	switch command {
	case "/status":
		return fmt.Sprintf("Synchronization is %s.\n%s", s.State(), notifier.FormatCycleReport(s.Snapshot()))
	case "/stats":
		rep := s.Snapshot()
		if rep == nil {
			return notifier.FormatStatistics(nil)
		}
		return notifier.FormatStatistics(rep.Stats)
	case "/sync":
		if s.TriggerNow() {
			return "Running a synchronization now."
		}
		return "Synchronization is not running."
	default:
		return "Commands:\n/status - last synchronization\n/stats - today's price statistics\n/sync - synchronize now"
	}
}
