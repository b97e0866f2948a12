package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"KasPull/internal/domain/models"
	domrepo "KasPull/internal/domain/repository"
	applogger "KasPull/pkg/logger"
)

// SinkFunc delivers one change downstream.
type SinkFunc func(ctx context.Context, c *models.BalanceChange) error

var ErrPipelineStopped = errors.New("pipeline stopped")

// pipelineItem is either a change for the sink or an operation that must run
// after everything queued before it.
type pipelineItem struct {
	change models.BalanceChange
	op     func(ctx context.Context) error
	done   chan error
}

// EventPipeline decouples the notifier from slow downstream sinks. Changes
// are buffered without blocking and delivered one at a time, in order, with
// capped exponential backoff on failure.
type EventPipeline struct {
	name    string
	sink    SinkFunc
	metrics domrepo.Metrics
	log     *applogger.Logger

	bufSize     int
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	bufCh  chan pipelineItem
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

type PipelineOption func(*EventPipeline)

// WithBufferSize sets how many changes may wait for delivery.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithMaxAttempts sets how often one change is tried before it is dropped.
func WithMaxAttempts(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry backoff bounds.
func WithBackoff(min, max time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if min > 0 {
			p.minBackoff = min
		}
		if max >= p.minBackoff {
			p.maxBackoff = max
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *EventPipeline) { p.log = l }
}

// NewEventPipeline creates a pipeline feeding sink. name labels metrics and logs.
func NewEventPipeline(name string, sink SinkFunc, metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		name:        name,
		sink:        sink,
		metrics:     metrics,
		bufSize:     256,
		maxAttempts: 5,
		minBackoff:  100 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		sleep:       sleepCtx,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = applogger.NewNop()
	}
	p.bufCh = make(chan pipelineItem, p.bufSize)
	return p
}

func (p *EventPipeline) Name() string { return p.name }

// OnBalanceChanged enqueues c. A full buffer drops c and counts it.
func (p *EventPipeline) OnBalanceChanged(_ context.Context, c models.BalanceChange) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		p.drop(c, ErrPipelineStopped)
		return
	}
	select {
	case p.bufCh <- pipelineItem{change: c}:
	default:
		p.drop(c, errors.New("buffer full"))
	}
}

// Do runs op on the delivery goroutine once every change queued before it
// has been delivered or dropped, and returns its error. A pipeline that is
// not running executes op directly.
func (p *EventPipeline) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p.mu.Lock()
	running := p.started && !p.stopped
	p.mu.Unlock()
	if !running {
		return op(ctx)
	}

	it := pipelineItem{op: op, done: make(chan error, 1)}
	select {
	case p.bufCh <- it:
	case <-p.doneCh:
		return op(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-it.done:
		return err
	case <-p.doneCh:
		// The goroutine may have run op during its final drain.
		select {
		case err := <-it.done:
			return err
		default:
			return op(ctx)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the delivery goroutine.
func (p *EventPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *EventPipeline) run(ctx context.Context) {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			p.drain(ctx)
			return
		case it := <-p.bufCh:
			if it.op != nil {
				it.done <- it.op(ctx)
				continue
			}
			p.deliver(ctx, it.change)
		}
	}
}

// drain makes one attempt for everything still buffered.
func (p *EventPipeline) drain(ctx context.Context) {
	for {
		select {
		case it := <-p.bufCh:
			if it.op != nil {
				it.done <- it.op(ctx)
				continue
			}
			if err := p.sink(ctx, &it.change); err != nil {
				p.drop(it.change, err)
			}
		default:
			return
		}
	}
}

func (p *EventPipeline) deliver(ctx context.Context, c models.BalanceChange) {
	backoff := p.minBackoff
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := p.sink(ctx, &c)
		if err == nil {
			p.metrics.RecordLatency("pipeline_"+p.name, time.Since(start).Seconds())
			return
		}
		p.metrics.RecordError("pipeline_" + p.name)
		if attempt >= p.maxAttempts {
			p.drop(c, err)
			return
		}
		p.log.Warn("event delivery failed, retrying",
			applogger.String("sink", p.name),
			applogger.Uint64("seq", c.Seq),
			applogger.Int("attempt", attempt),
			applogger.Duration("backoff_ms", backoff),
			applogger.Error(err),
		)
		if err := p.sleep(ctx, backoff); err != nil {
			p.drop(c, err)
			return
		}
		select {
		case <-p.stopCh:
			p.retryOnStop(ctx, c)
			return
		default:
		}
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

func (p *EventPipeline) retryOnStop(ctx context.Context, c models.BalanceChange) {
	if err := p.sink(ctx, &c); err != nil {
		p.drop(c, err)
	}
}

func (p *EventPipeline) drop(c models.BalanceChange, err error) {
	p.metrics.RecordEventDropped(p.name)
	p.log.Error("event dropped",
		applogger.String("sink", p.name),
		applogger.Uint64("seq", c.Seq),
		applogger.Float64("value", c.Value),
		applogger.Error(err),
	)
}

// Stop ends delivery after a best-effort drain. It waits until the
// delivery goroutine exits or ctx is done.
func (p *EventPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	if !started {
		return nil
	}
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
