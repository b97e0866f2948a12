package poller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"KasPull/internal/domain/models"
	drepo "KasPull/internal/domain/repository"
	"KasPull/internal/service/normalizer"
	"KasPull/pkg/logger"
)

const (
	ReasonBusy      = "busy"
	ReasonTimeout   = "timeout"
	ReasonTransport = "transport"
	ReasonParse     = "parse"
)

// Error is returned by Poll for every failed cycle.
type Error struct {
	Reason string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("poll %s: %s", e.Reason, e.Detail)
	}
	return "poll " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

var (
	ErrBusy      = &Error{Reason: ReasonBusy}
	ErrTimeout   = &Error{Reason: ReasonTimeout}
	ErrTransport = &Error{Reason: ReasonTransport}
	ErrParse     = &Error{Reason: ReasonParse}
)

// Reason extracts the poll failure reason from err, or "" if err is not a poll error.
func Reason(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

type Option func(*Poller)

func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithCacheBust controls whether every fetch asks for a cache-busting URL.
func WithCacheBust(on bool) Option {
	return func(p *Poller) { p.cacheBust = on }
}

func WithMetrics(m drepo.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Poller) { p.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// Poller runs one fetch-and-normalize cycle at a time.
type Poller struct {
	fetcher   drepo.SourceFetcher
	timeout   time.Duration
	cacheBust bool
	inFlight  atomic.Bool

	now     func() time.Time
	metrics drepo.Metrics
	log     *logger.Logger
}

func New(fetcher drepo.SourceFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:   fetcher,
		timeout:   10 * time.Second,
		cacheBust: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.NewNop()
	}
	return p
}

// InFlight reports whether a fetch is outstanding.
func (p *Poller) InFlight() bool { return p.inFlight.Load() }

type fetchResult struct {
	body   string
	status int
	err    error
}

// Poll fetches and normalizes one reading. A call made while another fetch
// is outstanding fails with ErrBusy without touching the network. The
// in-flight slot is held until the fetcher itself returns, even if Poll
// already gave up on it because of the timeout.
func (p *Poller) Poll(ctx context.Context) (models.Reading, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.record(ReasonBusy, 0)
		return models.Reading{}, &Error{Reason: ReasonBusy}
	}

	start := p.now()
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer p.inFlight.Store(false)
		body, status, err := p.fetcher.FetchRaw(fctx, p.cacheBust)
		done <- fetchResult{body: body, status: status, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-fctx.Done():
		res = fetchResult{err: fctx.Err()}
	}
	elapsed := p.now().Sub(start).Seconds()

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) || fctx.Err() == context.DeadlineExceeded {
			p.record(ReasonTimeout, elapsed)
			return models.Reading{}, &Error{Reason: ReasonTimeout, Detail: p.timeout.String(), Err: res.err}
		}
		p.record(ReasonTransport, elapsed)
		return models.Reading{}, &Error{Reason: ReasonTransport, Detail: res.err.Error(), Err: res.err}
	}
	if res.status < 200 || res.status >= 300 {
		p.record(ReasonTransport, elapsed)
		return models.Reading{}, &Error{Reason: ReasonTransport, Detail: fmt.Sprintf("unexpected status %d", res.status)}
	}

	v, err := normalizer.Normalize(res.body)
	if err != nil {
		p.record(ReasonParse, elapsed)
		return models.Reading{}, &Error{Reason: ReasonParse, Detail: err.Error(), Err: err}
	}

	p.record("ok", elapsed)
	p.log.Debug("poll ok", logger.Float64("value", v), logger.Float64("seconds", elapsed))
	return models.Reading{Value: v, ObservedAt: p.now()}, nil
}

func (p *Poller) record(result string, seconds float64) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordPoll(result, seconds)
	if result != "ok" {
		p.metrics.RecordError(result)
	}
}
