package usecase

import (
	"context"
	"sync"
	"time"

	"KasPull/internal/domain/models"
	"KasPull/internal/service/format"
	"KasPull/internal/service/stabilizer"
)

// Listener receives confirmed balance changes in confirmation order.
// Implementations must not block.
type Listener interface {
	OnBalanceChanged(ctx context.Context, change models.BalanceChange)
}

// FailureListener receives informational poll failures.
type FailureListener interface {
	OnPollFailed(ctx context.Context, failure models.PollFailure)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, change models.BalanceChange)

func (f ListenerFunc) OnBalanceChanged(ctx context.Context, change models.BalanceChange) {
	f(ctx, change)
}

// Notifier fans confirmed changes out to listeners, at most once per change.
type Notifier struct {
	mu        sync.Mutex
	listeners []Listener
	failures  []FailureListener

	seq  uint64
	last *models.BalanceChange
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Subscribe(l Listener) {
	if l == nil {
		return
	}
	n.mu.Lock()
	n.listeners = append(n.listeners, l)
	n.mu.Unlock()
}

func (n *Notifier) SubscribeFailures(l FailureListener) {
	if l == nil {
		return
	}
	n.mu.Lock()
	n.failures = append(n.failures, l)
	n.mu.Unlock()
}

// Notify emits a BalanceChange for a Confirmed result whose value differs
// from the last announced one. It reports whether anything was emitted.
func (n *Notifier) Notify(ctx context.Context, res stabilizer.Result) (models.BalanceChange, bool) {
	if res.Kind != stabilizer.Confirmed {
		return models.BalanceChange{}, false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.last != nil && n.last.Value == res.Value {
		return models.BalanceChange{}, false
	}

	n.seq++
	change := models.BalanceChange{
		Seq:       n.seq,
		Value:     res.Value,
		Formatted: format.Balance(res.Value),
		At:        res.At,
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}
	if n.last != nil {
		prev := n.last.Value
		change.Previous = &prev
	}
	n.last = &change

	for _, l := range n.listeners {
		l.OnBalanceChanged(ctx, change)
	}
	return change, true
}

// PollFailed forwards a failure to failure listeners.
func (n *Notifier) PollFailed(ctx context.Context, f models.PollFailure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, l := range n.failures {
		l.OnPollFailed(ctx, f)
	}
}

// Last returns the most recently announced change.
func (n *Notifier) Last() (models.BalanceChange, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return models.BalanceChange{}, false
	}
	return *n.last, true
}

// Reset forgets the last announced value. Sequence numbers keep increasing.
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.last = nil
	n.mu.Unlock()
}
