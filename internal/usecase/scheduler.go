package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"KasPull/internal/domain/models"
	drepo "KasPull/internal/domain/repository"
	"KasPull/internal/service/poller"
	"KasPull/internal/service/stabilizer"
	"KasPull/pkg/logger"
)

// ScheduleConfig controls poll pacing.
type ScheduleConfig struct {
	BaseDelay  time.Duration
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	MaxRetries int
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		BaseDelay:  15 * time.Second,
		MinDelay:   5 * time.Second,
		MaxDelay:   2 * time.Minute,
		Multiplier: 2,
		MaxRetries: 3,
	}
}

func (c ScheduleConfig) normalized() ScheduleConfig {
	def := DefaultScheduleConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MinDelay <= 0 || c.MinDelay > c.BaseDelay {
		c.MinDelay = c.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = def.MaxRetries
	}
	return c
}

// CycleOutcome summarises one finished cycle for NextDelay.
type CycleOutcome struct {
	Err     error
	Pending bool
	Busy    bool
}

// NextDelay computes the schedule state after a cycle.
//
// Failures grow the delay as base*multiplier^errors up to MaxDelay; once
// MaxRetries consecutive failures are reached the delay sits at MaxDelay.
// A success resets the error streak and returns to BaseDelay, or MinDelay
// while a new candidate value is still collecting confirmations. A busy
// cycle keeps the previous delay.
func NextDelay(cfg ScheduleConfig, prev models.ScheduleState, out CycleOutcome) models.ScheduleState {
	next := prev
	next.InFlight = false

	switch {
	case out.Busy:
		if next.NextDelay <= 0 {
			next.NextDelay = cfg.BaseDelay
		}
	case out.Err != nil:
		next.ConsecutiveErrors++
		next.NextDelay = backoff(cfg, next.ConsecutiveErrors)
	default:
		next.ConsecutiveErrors = 0
		next.NextDelay = cfg.BaseDelay
		if out.Pending {
			next.NextDelay = cfg.MinDelay
		}
	}
	return next
}

func backoff(cfg ScheduleConfig, errs int) time.Duration {
	if errs >= cfg.MaxRetries {
		return cfg.MaxDelay
	}
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(errs))
	if d >= float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

// ConnectivityFor maps an error streak to a connectivity level.
func ConnectivityFor(cfg ScheduleConfig, errs int) models.Connectivity {
	switch {
	case errs == 0:
		return models.ConnOnline
	case errs < cfg.MaxRetries:
		return models.ConnDegraded
	default:
		return models.ConnOffline
	}
}

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts timers so scheduling can be tested without real time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Source is the poll side of a cycle.
type Source interface {
	Poll(ctx context.Context) (models.Reading, error)
	InFlight() bool
}

// Status is a read-only view of the scheduler for the API.
type Status struct {
	Stable            models.StableValue  `json:"stable"`
	Connectivity      models.Connectivity `json:"connectivity"`
	ConsecutiveErrors int                 `json:"consecutive_errors"`
	NextDelayMs       int64               `json:"next_delay_ms"`
	InFlight          bool                `json:"in_flight"`
	LastPollAt        *time.Time          `json:"last_poll_at,omitempty"`
	LastSuccessAt     *time.Time          `json:"last_success_at,omitempty"`
	LastError         string              `json:"last_error,omitempty"`
}

type SchedulerOption func(*Scheduler)

func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

func WithSchedulerMetrics(m drepo.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func WithSchedulerLogger(l *logger.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler drives poll -> stabilize -> notify cycles. At most one cycle
// runs at a time; triggers that arrive while one is running are dropped.
type Scheduler struct {
	source   Source
	stab     *stabilizer.Stabilizer
	notifier *Notifier
	cfg      ScheduleConfig
	clock    Clock
	metrics  drepo.Metrics
	log      *logger.Logger

	mu            sync.Mutex
	ctx           context.Context
	state         models.ScheduleState
	timer         Timer
	gen           uint64
	started       bool
	stopped       bool
	lastPollAt    time.Time
	lastSuccessAt time.Time
	lastError     string

	wg sync.WaitGroup
}

func NewScheduler(source Source, stab *stabilizer.Stabilizer, notifier *Notifier, cfg ScheduleConfig, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		source:   source,
		stab:     stab,
		notifier: notifier,
		cfg:      cfg.normalized(),
		clock:    realClock{},
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	s.state.NextDelay = s.cfg.BaseDelay
	return s
}

// Start runs the first cycle immediately. ctx is passed to every poll.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scheduler: already stopped")
	}
	if s.started {
		return nil
	}
	s.ctx = ctx
	s.started = true
	s.log.Info("scheduler started",
		logger.Duration("base_delay_ms", s.cfg.BaseDelay),
		logger.Duration("max_delay_ms", s.cfg.MaxDelay),
	)
	s.startLocked("startup")
	return nil
}

// Trigger requests an immediate out-of-band cycle. It returns false when
// the request was dropped because a poll is in flight or the scheduler is
// not running.
func (s *Scheduler) Trigger(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.startLocked(reason)
	if !ok {
		s.log.Debug("trigger dropped", logger.String("reason", reason))
	}
	return ok
}

// NetworkRestored polls immediately, but only after failures.
func (s *Scheduler) NetworkRestored() bool {
	s.mu.Lock()
	errs := s.state.ConsecutiveErrors
	s.mu.Unlock()
	if errs == 0 {
		return false
	}
	return s.Trigger("network-restored")
}

func (s *Scheduler) startLocked(reason string) bool {
	if !s.started || s.stopped || s.state.InFlight || s.source.InFlight() {
		return false
	}
	s.state.InFlight = true
	s.disarmLocked()
	s.wg.Add(1)
	go s.runCycle(s.ctx, reason)
	return true
}

func (s *Scheduler) runCycle(ctx context.Context, reason string) {
	defer s.wg.Done()

	start := s.clock.Now()
	reading, err := s.source.Poll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.InFlight = false
	if s.stopped {
		s.log.Debug("cycle result discarded after stop", logger.String("reason", reason))
		return
	}
	s.lastPollAt = s.clock.Now()

	var out CycleOutcome
	switch {
	case err == nil:
		res := s.stab.Ingest(reading)
		if s.notifier != nil {
			s.notifier.Notify(ctx, res)
		}
		out.Pending = s.stab.Pending()
		s.lastSuccessAt = s.lastPollAt
		s.lastError = ""
	case errors.Is(err, poller.ErrBusy):
		out.Busy = true
	default:
		out.Err = err
		s.lastError = err.Error()
	}

	s.state = NextDelay(s.cfg, s.state, out)
	if out.Err != nil {
		conn := ConnectivityFor(s.cfg, s.state.ConsecutiveErrors)
		s.log.Warn("poll failed",
			logger.String("reason", reason),
			logger.Error(err),
			logger.Int("consecutive_errors", s.state.ConsecutiveErrors),
			logger.String("connectivity", string(conn)),
		)
		if s.notifier != nil {
			s.notifier.PollFailed(ctx, models.PollFailure{
				Reason:            failureReason(err),
				Detail:            err.Error(),
				ConsecutiveErrors: s.state.ConsecutiveErrors,
				Connectivity:      conn,
				At:                s.lastPollAt,
			})
		}
	}
	if s.metrics != nil {
		s.metrics.RecordSchedule(s.state.ConsecutiveErrors, s.state.NextDelay)
		s.metrics.RecordLatency("cycle", s.clock.Now().Sub(start).Seconds())
	}
	s.armLocked(s.state.NextDelay)
}

func failureReason(err error) string {
	if r := poller.Reason(err); r != "" {
		return r
	}
	return "unknown"
}

func (s *Scheduler) armLocked(d time.Duration) {
	s.disarmLocked()
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen) })
}

// disarmLocked stops the pending timer and invalidates any callback that
// already fired but has not yet acquired the lock.
func (s *Scheduler) disarmLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.stopped {
		return
	}
	s.timer = nil
	if !s.startLocked("timer") {
		// The fetch from a timed-out cycle is still draining.
		s.armLocked(s.cfg.MinDelay)
	}
}

// Stop prevents further cycles and waits for an in-flight one to finish,
// discarding its result. It returns ctx.Err() if ctx expires first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.disarmLocked()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Reset clears the stabilizer and the last announced value. Timing is untouched.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stab.Reset()
	if s.notifier != nil {
		s.notifier.Reset()
	}
	s.log.Info("stabilizer reset")
}

// State returns a copy of the schedule state.
func (s *Scheduler) State() models.ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Connectivity() models.Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ConnectivityFor(s.cfg, s.state.ConsecutiveErrors)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Stable:            s.stab.Stable(),
		Connectivity:      ConnectivityFor(s.cfg, s.state.ConsecutiveErrors),
		ConsecutiveErrors: s.state.ConsecutiveErrors,
		NextDelayMs:       s.state.NextDelay.Milliseconds(),
		InFlight:          s.state.InFlight,
		LastError:         s.lastError,
	}
	if !s.lastPollAt.IsZero() {
		t := s.lastPollAt
		st.LastPollAt = &t
	}
	if !s.lastSuccessAt.IsZero() {
		t := s.lastSuccessAt
		st.LastSuccessAt = &t
	}
	return st
}

// Stabilizer exposes the underlying stabilizer for read-only inspection.
func (s *Scheduler) Stabilizer() *stabilizer.Stabilizer { return s.stab }
