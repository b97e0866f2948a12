package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"KasPull/internal/domain/models"
	"KasPull/internal/service/poller"
	"KasPull/internal/service/stabilizer"
)

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type step struct {
	value float64
	err   error
}

type scriptedSource struct {
	mu       sync.Mutex
	steps    []step
	calls    int
	gate     chan struct{}
	inFlight atomic.Bool
}

func (s *scriptedSource) Poll(ctx context.Context) (models.Reading, error) {
	s.inFlight.Store(true)
	defer s.inFlight.Store(false)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	st := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	if st.err != nil {
		return models.Reading{}, st.err
	}
	return models.Reading{Value: st.value, ObservedAt: time.Unix(1700000000, 0)}, nil
}

func (s *scriptedSource) InFlight() bool { return s.inFlight.Load() }

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestScheduler(src *scriptedSource) (*Scheduler, *fakeClock, *recorder) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	n := NewNotifier()
	rec := &recorder{}
	n.Subscribe(rec)
	n.SubscribeFailures(rec)
	s := NewScheduler(src, stabilizer.New(stabilizer.DefaultConfig()), n, DefaultScheduleConfig(), WithClock(clock))
	return s, clock, rec
}

var errTransport = &poller.Error{Reason: poller.ReasonTransport, Detail: "connection refused"}

func TestNextDelayBackoffMonotonic(t *testing.T) {
	cfg := DefaultScheduleConfig()
	st := models.ScheduleState{NextDelay: cfg.BaseDelay}
	prev := time.Duration(0)
	for i := 0; i < 8; i++ {
		st = NextDelay(cfg, st, CycleOutcome{Err: errTransport})
		if st.NextDelay < prev {
			t.Fatalf("delay shrank at error %d: %v < %v", i+1, st.NextDelay, prev)
		}
		if st.NextDelay > cfg.MaxDelay {
			t.Fatalf("delay above ceiling: %v", st.NextDelay)
		}
		prev = st.NextDelay
	}
	if st.ConsecutiveErrors != 8 || st.NextDelay != cfg.MaxDelay {
		t.Fatalf("unexpected state %+v", st)
	}

	st = NextDelay(cfg, st, CycleOutcome{})
	if st.ConsecutiveErrors != 0 || st.NextDelay > cfg.BaseDelay {
		t.Fatalf("success did not reset: %+v", st)
	}
}

func TestNextDelayFirstErrors(t *testing.T) {
	cfg := DefaultScheduleConfig()
	st := NextDelay(cfg, models.ScheduleState{}, CycleOutcome{Err: errTransport})
	if st.NextDelay != 30*time.Second {
		t.Fatalf("expected 30s after first error, got %v", st.NextDelay)
	}
	st = NextDelay(cfg, st, CycleOutcome{Err: errTransport})
	if st.NextDelay != time.Minute {
		t.Fatalf("expected 1m after second error, got %v", st.NextDelay)
	}
	st = NextDelay(cfg, st, CycleOutcome{Err: errTransport})
	if st.NextDelay != cfg.MaxDelay {
		t.Fatalf("expected ceiling after max retries, got %v", st.NextDelay)
	}
}

func TestNextDelayPendingAndBusy(t *testing.T) {
	cfg := DefaultScheduleConfig()
	st := NextDelay(cfg, models.ScheduleState{}, CycleOutcome{Pending: true})
	if st.NextDelay != cfg.MinDelay {
		t.Fatalf("expected min delay while pending, got %v", st.NextDelay)
	}
	st = models.ScheduleState{NextDelay: 42 * time.Second, ConsecutiveErrors: 1}
	got := NextDelay(cfg, st, CycleOutcome{Busy: true})
	if got.NextDelay != 42*time.Second || got.ConsecutiveErrors != 1 {
		t.Fatalf("busy changed state: %+v", got)
	}
}

func TestConnectivityFor(t *testing.T) {
	cfg := DefaultScheduleConfig()
	want := map[int]models.Connectivity{0: models.ConnOnline, 1: models.ConnDegraded, 2: models.ConnDegraded, 3: models.ConnOffline, 9: models.ConnOffline}
	for errs, c := range want {
		if got := ConnectivityFor(cfg, errs); got != c {
			t.Errorf("errs=%d: got %s want %s", errs, got, c)
		}
	}
}

func TestSchedulerConfirmsAcrossCycles(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 100}}}
	s, clock, rec := newTestScheduler(src)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.wg.Wait()

	tm := clock.last()
	if tm == nil || tm.d != DefaultScheduleConfig().BaseDelay {
		t.Fatalf("expected timer armed at base delay, got %+v", tm)
	}
	tm.f()
	s.wg.Wait()

	if len(rec.changes) != 1 || rec.changes[0].Value != 100 {
		t.Fatalf("expected one change to 100, got %+v", rec.changes)
	}
	if st := s.Status(); !st.Stable.Set || st.Connectivity != models.ConnOnline || st.LastSuccessAt == nil {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestSchedulerTriggerDroppedWhileInFlight(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 1}}, gate: make(chan struct{})}
	s, _, _ := newTestScheduler(src)

	_ = s.Start(context.Background())
	if s.Trigger("manual") {
		t.Fatalf("trigger during in-flight poll must be dropped")
	}
	close(src.gate)
	s.wg.Wait()
	if n := src.callCount(); n != 1 {
		t.Fatalf("expected one poll, got %d", n)
	}
}

func TestSchedulerStopDiscardsInFlight(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 7}}, gate: make(chan struct{})}
	s, clock, rec := newTestScheduler(src)

	_ = s.Start(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Stop(context.Background()) }()
	for {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(src.gate)

	if err := <-errCh; err != nil {
		t.Fatalf("stop: %v", err)
	}
	if clock.count() != 0 {
		t.Fatalf("timer armed after stop")
	}
	if len(rec.changes) != 0 || len(s.Stabilizer().Snapshot().Window) != 0 {
		t.Fatalf("result of discarded cycle leaked")
	}
	if s.Trigger("manual") {
		t.Fatalf("trigger after stop must be a no-op")
	}
}

func TestSchedulerStopTimesOut(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 7}}, gate: make(chan struct{})}
	s, _, _ := newTestScheduler(src)
	_ = s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	close(src.gate)
	s.wg.Wait()
}

func TestSchedulerFailuresAndNetworkRestored(t *testing.T) {
	src := &scriptedSource{steps: []step{{err: errTransport}, {err: errTransport}, {value: 5}}}
	s, clock, rec := newTestScheduler(src)

	if s.NetworkRestored() {
		t.Fatalf("network restored before start must not poll")
	}
	_ = s.Start(context.Background())
	s.wg.Wait()

	if st := s.State(); st.ConsecutiveErrors != 1 || st.NextDelay != 30*time.Second {
		t.Fatalf("unexpected state after failure %+v", st)
	}
	if tm := clock.last(); tm == nil || tm.d != 30*time.Second {
		t.Fatalf("expected backoff timer, got %+v", tm)
	}
	if len(rec.failures) != 1 || rec.failures[0].Reason != poller.ReasonTransport || rec.failures[0].Connectivity != models.ConnDegraded {
		t.Fatalf("unexpected failures %+v", rec.failures)
	}

	if !s.NetworkRestored() {
		t.Fatalf("expected immediate poll after failures")
	}
	s.wg.Wait()
	if s.State().ConsecutiveErrors != 2 {
		t.Fatalf("expected 2 errors, got %+v", s.State())
	}

	s.NetworkRestored()
	s.wg.Wait()
	if st := s.State(); st.ConsecutiveErrors != 0 || st.NextDelay != DefaultScheduleConfig().BaseDelay {
		t.Fatalf("success did not reset backoff: %+v", st)
	}
	if s.NetworkRestored() {
		t.Fatalf("network restored while healthy must not poll")
	}
}

func TestSchedulerStaleTimerIgnored(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 1}}}
	s, clock, _ := newTestScheduler(src)
	_ = s.Start(context.Background())
	s.wg.Wait()

	stale := clock.last()
	if !s.Trigger("manual") {
		t.Fatalf("manual trigger rejected")
	}
	s.wg.Wait()
	before := src.callCount()

	stale.f()
	s.wg.Wait()
	if src.callCount() != before {
		t.Fatalf("stale timer started a cycle")
	}
}

func TestSchedulerReset(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 9}}}
	s, clock, _ := newTestScheduler(src)
	_ = s.Start(context.Background())
	s.wg.Wait()
	clock.last().f()
	s.wg.Wait()
	if !s.Stabilizer().Stable().Set {
		t.Fatalf("expected a stable value")
	}
	delay := s.State().NextDelay

	s.Reset()
	if s.Stabilizer().Stable().Set {
		t.Fatalf("reset kept stable value")
	}
	if s.State().NextDelay != delay {
		t.Fatalf("reset touched timing")
	}
}
