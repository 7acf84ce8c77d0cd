package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"
)

var ErrAttemptTimeout = errors.New("association window elapsed")

type Options struct {
	// AttemptTimeout bounds how long one association attempt may block.
	AttemptTimeout time.Duration
	// PollInterval is how often the radio is checked during an attempt.
	PollInterval time.Duration
	// RetryDelay is the fixed pause between failed attempts.
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		AttemptTimeout: 20 * time.Second,
		PollInterval:   500 * time.Millisecond,
		RetryDelay:     time.Second,
	}
}

// RetryState tracks reconnect attempts. Attempts is diagnostic only.
type RetryState struct {
	LastAttempt time.Time
	Attempts    int
	Backoff     time.Duration
}

type Option func(*Manager)

// WithTransitionHook registers fn to be called on every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(m *Manager) { m.onTransition = append(m.onTransition, fn) }
}

// WithFailureHook registers fn to be called after each failed attempt.
func WithFailureHook(fn func(RetryState)) Option {
	return func(m *Manager) { m.onFailure = append(m.onFailure, fn) }
}

// Manager owns the association lifecycle. It is not safe for concurrent use;
// the scheduler loop is its only caller.
type Manager struct {
	radio  Radio
	id     Identity
	opts   Options
	logger *slog.Logger
	clock  clock.Clock

	machine *fsm.FSM
	retry   RetryState

	onTransition []func(from, to State)
	onFailure    []func(RetryState)
}

func NewManager(radio Radio, id Identity, opts Options, logger *slog.Logger, clk clock.Clock, options ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	m := &Manager{
		radio:  radio,
		id:     id,
		opts:   opts,
		logger: logger,
		clock:  clk,
		retry:  RetryState{Backoff: opts.RetryDelay},
	}
	for _, o := range options {
		o(m)
	}

	m.machine = fsm.NewFSM(
		Disconnected.String(),
		fsm.Events{
			{Name: eventAssociate, Src: []string{Disconnected.String()}, Dst: Connecting.String()},
			{Name: eventEstablished, Src: []string{Connecting.String()}, Dst: Connected.String()},
			{Name: eventAbandon, Src: []string{Connecting.String()}, Dst: Disconnected.String()},
			{Name: eventLost, Src: []string{Connected.String()}, Dst: Connecting.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				from, to := parseState(e.Src), parseState(e.Dst)
				m.logger.Debug("link: state change", "event", e.Event, "from", from, "to", to)
				for _, fn := range m.onTransition {
					fn(from, to)
				}
			},
		},
	)
	return m
}

// State returns the current link state without touching the radio.
func (m *Manager) State() State {
	return parseState(m.machine.Current())
}

// Retry returns a copy of the reconnect bookkeeping.
func (m *Manager) Retry() RetryState {
	return m.retry
}

// EnsureAssociated returns immediately while the link is up. Otherwise it
// retries association until it succeeds; only ctx cancellation stops it.
func (m *Manager) EnsureAssociated(ctx context.Context) error {
	if m.State() == Connected {
		if m.radio.Associated(ctx) {
			return nil
		}
		m.logger.Warn("link: association lost, reconnecting", "ssid", m.id.SSID)
		m.fire(ctx, eventLost)
		m.teardown(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			if m.State() == Connecting {
				m.fire(ctx, eventAbandon)
			}
			return err
		}

		if m.State() == Disconnected {
			m.fire(ctx, eventAssociate)
		}
		m.logger.Info("link: connecting", "ssid", m.id.SSID, "attempt", m.retry.Attempts+1)

		err := m.attempt(ctx)
		if err == nil {
			m.retry = RetryState{LastAttempt: m.retry.LastAttempt, Backoff: m.opts.RetryDelay}
			m.fire(ctx, eventEstablished)
			attrs := []any{"ssid", m.id.SSID}
			if d, ok := m.radio.(Describer); ok {
				attrs = append(attrs, d.Describe(ctx)...)
			}
			m.logger.Info("link: connected", attrs...)
			return nil
		}

		m.fire(ctx, eventAbandon)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		m.retry.Attempts++
		m.retry.Backoff = m.opts.RetryDelay
		m.logger.Warn("link: association failed, retrying",
			"ssid", m.id.SSID,
			"attempts", m.retry.Attempts,
			"retry_in", m.retry.Backoff,
			"error", err,
		)
		for _, fn := range m.onFailure {
			fn(m.retry)
		}
		if err := m.wait(ctx, m.retry.Backoff); err != nil {
			return err
		}
	}
}

func (m *Manager) attempt(ctx context.Context) error {
	start := m.clock.Now()
	m.retry.LastAttempt = start

	if err := m.radio.Associate(ctx, m.id); err != nil {
		m.teardown(ctx)
		return fmt.Errorf("associate: %w", err)
	}

	for {
		if m.radio.Associated(ctx) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			m.teardown(ctx)
			return err
		}
		if m.clock.Since(start) >= m.opts.AttemptTimeout {
			m.teardown(ctx)
			return fmt.Errorf("%w after %s", ErrAttemptTimeout, m.opts.AttemptTimeout)
		}
		m.logger.Debug("link: waiting for association", "elapsed", m.clock.Since(start))
		if err := m.wait(ctx, m.opts.PollInterval); err != nil {
			m.teardown(ctx)
			return err
		}
	}
}

// wait pauses for d or until ctx is done, whichever comes first.
func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.clock.After(d):
		return nil
	}
}

func (m *Manager) teardown(ctx context.Context) {
	if err := m.radio.Disassociate(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("link: teardown failed", "error", err)
	}
}

// fire applies event even when ctx is already cancelled so the recorded state
// always matches the radio.
func (m *Manager) fire(ctx context.Context, event string) {
	if err := m.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		m.logger.Error("link: invalid transition", "event", event, "state", m.machine.Current(), "error", err)
	}
}
