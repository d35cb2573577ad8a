// Package simulator drives the generate → log → send → sleep cycle.
package simulator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"substation-sim/internal/sensor"
	"substation-sim/internal/transmit"
)

const (
	DefaultInterval = 3 * time.Second
	statsEvery      = 10
)

var ErrNotIdle = errors.New("simulator: not idle")

type State int32

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Reader interface {
	ReadAll() []sensor.Reading
}

type Sender interface {
	Send(ctx context.Context, readings []sensor.Reading) transmit.Result
	Stats() transmit.Stats
}

// Sink receives every tick's readings after the collector send. Errors are
// logged and never affect the loop.
type Sink interface {
	Publish(ctx context.Context, readings []sensor.Reading) error
}

type Options struct {
	Interval time.Duration
	// MaxIterations stops the loop after that many ticks; zero runs until stopped.
	MaxIterations int64
	Sinks         []Sink
}

type Simulator struct {
	reader Reader
	sender Sender
	opts   Options
	logger *slog.Logger

	state     atomic.Int32
	running   atomic.Bool
	iteration atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(reader Reader, sender Sender, opts Options, logger *slog.Logger) *Simulator {
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		reader: reader,
		sender: sender,
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Run ticks until Stop is called, ctx is cancelled, or MaxIterations is
// reached. It returns the final transmission statistics; the error is
// ctx.Err() when the context ended the run and nil otherwise. A simulator
// runs at most once.
func (s *Simulator) Run(ctx context.Context) (transmit.Stats, error) {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return s.sender.Stats(), ErrNotIdle
	}
	s.running.Store(true)
	s.logger.Info("simulator running", "interval", s.opts.Interval.String())

	err := s.loop(ctx)

	s.running.Store(false)
	s.state.Store(int32(Stopped))

	stats := s.sender.Stats()
	s.logger.Info("simulator stopped",
		"iterations", s.iteration.Load(),
		"success", stats.Success,
		"failed", stats.Failed,
		"total", stats.Total,
		"success_rate", stats.SuccessRate,
	)
	return stats, err
}

func (s *Simulator) loop(ctx context.Context) error {
	for s.running.Load() && !s.stopRequested() {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.tick(ctx)

		if limit := s.opts.MaxIterations; limit > 0 && s.iteration.Load() >= limit {
			return nil
		}
		if err := s.sleep(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) tick(ctx context.Context) {
	n := s.iteration.Add(1)

	readings := s.reader.ReadAll()
	s.logger.Info("readings", summaryAttrs(n, readings)...)

	// An in-flight send finishes even if shutdown starts; the client
	// timeout bounds how long that takes.
	sendCtx := context.WithoutCancel(ctx)
	s.sender.Send(sendCtx, readings)

	for _, sink := range s.opts.Sinks {
		if err := sink.Publish(sendCtx, readings); err != nil {
			s.logger.Warn("sink publish failed", "iteration", n, "error", err)
		}
	}

	if n%statsEvery == 0 {
		st := s.sender.Stats()
		s.logger.Info("statistics",
			"iteration", n,
			"success", st.Success,
			"failed", st.Failed,
			"total", st.Total,
			"success_rate", st.SuccessRate,
		)
	}
}

// sleep waits for the interval, returning early on Stop or ctx cancellation.
func (s *Simulator) sleep(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		return nil
	}
	t := time.NewTimer(s.opts.Interval)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-s.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Stop asks the loop to exit before its next tick. Safe to call from any
// goroutine and more than once; a stop before Run makes Run refuse to start.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.state.CompareAndSwap(int32(Idle), int32(Stopped))
		close(s.stopCh)
	})
}

func (s *Simulator) State() State { return State(s.state.Load()) }

func (s *Simulator) Iteration() int64 { return s.iteration.Load() }

func (s *Simulator) Stats() transmit.Stats { return s.sender.Stats() }
