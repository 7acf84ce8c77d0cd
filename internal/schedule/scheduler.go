// Package schedule runs the node's reporting loop: keep the link up, and at
// most once per interval read a sample, report it and signal the outcome.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"cloudpico-node/internal/display"
	"cloudpico-node/internal/indicator"
	"cloudpico-node/internal/link"
	"cloudpico-node/internal/report"
	"cloudpico-node/internal/telemetry"
)

// ResultMissingData is the cycle result when the sample was incomplete.
const ResultMissingData = "missing_data"

type Link interface {
	State() link.State
	EnsureAssociated(ctx context.Context) error
}

type Source interface {
	Read(ctx context.Context) telemetry.Sample
}

type Reporter interface {
	Report(ctx context.Context, s telemetry.Sample) report.Outcome
}

type Indicator interface {
	Signal(ctx context.Context, p indicator.Pattern) error
}

type Options struct {
	// Interval is the minimum time between the starts of two cycles.
	Interval time.Duration
	// IdleSleep is the pause when no cycle is due.
	IdleSleep time.Duration
}

func DefaultOptions() Options {
	return Options{
		Interval:  5 * time.Second,
		IdleSleep: 10 * time.Millisecond,
	}
}

type Option func(*Scheduler)

func WithSink(s display.Sink) Option {
	return func(sc *Scheduler) { sc.sink = s }
}

// WithCycleHook is called with the result of every finished cycle.
func WithCycleHook(fn func(result string)) Option {
	return func(sc *Scheduler) { sc.onCycle = append(sc.onCycle, fn) }
}

type Scheduler struct {
	link     Link
	source   Source
	reporter Reporter
	ind      Indicator
	sink     display.Sink
	opts     Options
	logger   *slog.Logger
	clock    clock.Clock

	started   bool
	lastCycle time.Time
	cycles    uint64

	onCycle []func(string)
}

func New(l Link, src Source, rep Reporter, ind Indicator, opts Options, logger *slog.Logger, clk clock.Clock, options ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Scheduler{
		link:     l,
		source:   src,
		reporter: rep,
		ind:      ind,
		sink:     display.LogSink{Logger: logger},
		opts:     opts,
		logger:   logger,
		clock:    clk,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Run loops until ctx is cancelled. There is no other exit.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("schedule: reporting loop started",
		"interval", s.opts.Interval,
		"idle_sleep", s.opts.IdleSleep,
	)
	for ctx.Err() == nil {
		s.Tick(ctx)
	}
	s.logger.Info("schedule: reporting loop stopped", "cycles", s.cycles)
	return ctx.Err()
}

// Tick runs one loop iteration and reports whether a cycle ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	// A due cycle re-checks a Connected link so drops are noticed before sending.
	if s.link.State() != link.Connected || s.due() {
		if err := s.link.EnsureAssociated(ctx); err != nil {
			return false
		}
	}

	if !s.due() {
		s.clock.Sleep(s.opts.IdleSleep)
		return false
	}

	s.cycle(ctx)
	return true
}

func (s *Scheduler) due() bool {
	return !s.started || s.clock.Since(s.lastCycle) >= s.opts.Interval
}

func (s *Scheduler) cycle(ctx context.Context) {
	s.started = true
	s.lastCycle = s.clock.Now()
	s.cycles++

	smp := s.source.Read(ctx)
	if !smp.Valid() {
		s.logger.Warn("schedule: sample incomplete, not reporting",
			append([]any{"cycle", s.cycles, "missing", smp.MissingFields()}, smp.LogAttrs()...)...,
		)
		s.sink.Show(smp, "Missing data")
		s.signal(ctx, indicator.MissingData)
		s.finish(ResultMissingData)
		return
	}

	s.sink.Show(smp, "Sending...")
	out := s.reporter.Report(ctx, smp)

	if out.Delivered() {
		s.sink.Show(smp, "Sent OK")
		s.signal(ctx, indicator.Success)
	} else {
		s.logger.Warn("schedule: report not delivered", "cycle", s.cycles, "outcome", out.String(), "error", out.Err)
		s.sink.Show(smp, "Send failed: "+out.String())
		s.signal(ctx, indicator.Failure)
	}
	s.finish(out.Kind.String())
}

func (s *Scheduler) signal(ctx context.Context, p indicator.Pattern) {
	if err := s.ind.Signal(ctx, p); err != nil {
		s.logger.Warn("schedule: indicator failed", "pulses", p.Pulses, "error", err)
	}
}

func (s *Scheduler) finish(result string) {
	s.logger.Debug("schedule: cycle finished", "cycle", s.cycles, "result", result)
	for _, fn := range s.onCycle {
		fn(result)
	}
}
