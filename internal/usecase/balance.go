package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"KasPull/internal/domain/models"
	drepo "KasPull/internal/domain/repository"
	"KasPull/internal/service/format"
	"KasPull/internal/service/stabilizer"
	"KasPull/pkg/cache"
	"KasPull/pkg/logger"
)

var (
	ErrHistoryUnavailable = errors.New("balance history is not configured")
	ErrRefreshDropped     = errors.New("refresh dropped: a poll is already in flight")
)

// BalanceView is what clients see as the current balance. Value is nil
// until something has been confirmed or restored from a snapshot.
type BalanceView struct {
	Value        *float64            `json:"value"`
	Formatted    string              `json:"formatted,omitempty"`
	Rupiah       string              `json:"rupiah,omitempty"`
	ChangedAt    *time.Time          `json:"changed_at,omitempty"`
	Seq          uint64              `json:"seq,omitempty"`
	Connectivity models.Connectivity `json:"connectivity"`
	Cached       bool                `json:"cached"`
}

// StateView is the full debug dump.
type StateView struct {
	Stabilizer stabilizer.State `json:"stabilizer"`
	Pending    bool             `json:"pending"`
	Schedule   Status           `json:"schedule"`
}

type HistoryView struct {
	Changes   []models.BalanceChange `json:"changes"`
	FetchedAt time.Time              `json:"fetched_at"`
	Stale     bool                   `json:"stale"`
}

type BalanceOption func(*BalanceService)

// WithSnapshots enables restoring the last announced value at startup.
func WithSnapshots(s drepo.SnapshotStore) BalanceOption {
	return func(b *BalanceService) { b.snapshots = s }
}

// Sequencer runs an operation after the writes already queued for the same
// store.
type Sequencer interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
}

// WithSnapshotSequencer orders snapshot clears behind pending snapshot saves.
func WithSnapshotSequencer(s Sequencer) BalanceOption {
	return func(b *BalanceService) { b.snapshotSeq = s }
}

func WithChangeStore(c drepo.ChangeStore) BalanceOption {
	return func(b *BalanceService) { b.changes = c }
}

// WithHistoryCache caches history reads for ttl. Entries are kept longer
// so they can be served stale when the store is unreachable.
func WithHistoryCache(c cache.Service, ttl time.Duration) BalanceOption {
	return func(b *BalanceService) {
		b.cache = c
		b.historyTTL = ttl
	}
}

func WithBalanceLogger(l *logger.Logger) BalanceOption {
	return func(b *BalanceService) { b.log = l }
}

// BalanceService is the read/control surface over the scheduler used by
// the HTTP API.
type BalanceService struct {
	sched     *Scheduler
	notifier  *Notifier
	snapshots   drepo.SnapshotStore
	snapshotSeq Sequencer
	changes     drepo.ChangeStore
	cache       cache.Service
	log         *logger.Logger
	now         func() time.Time

	historyTTL time.Duration

	mu       sync.Mutex
	snapshot *models.BalanceChange
}

func NewBalanceService(sched *Scheduler, notifier *Notifier, opts ...BalanceOption) *BalanceService {
	b := &BalanceService{
		sched:    sched,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.NewNop()
	}
	return b
}

// RestoreSnapshot loads the last announced change so it can be served
// before the first confirmation. The stabilizer is not touched.
func (b *BalanceService) RestoreSnapshot(ctx context.Context) error {
	if b.snapshots == nil {
		return nil
	}
	snap, err := b.snapshots.Load(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.snapshot = snap
	b.mu.Unlock()
	if snap != nil {
		b.log.Info("snapshot restored",
			logger.Float64("value", snap.Value),
			logger.Time("changed_at", snap.At),
		)
	}
	return nil
}

// Current returns the last confirmed change, or the restored snapshot
// marked as cached when nothing has been confirmed in this process yet.
func (b *BalanceService) Current() BalanceView {
	view := BalanceView{Connectivity: b.sched.Connectivity()}

	change, ok := b.notifier.Last()
	if !ok {
		b.mu.Lock()
		snap := b.snapshot
		b.mu.Unlock()
		if snap == nil {
			return view
		}
		change = *snap
		view.Cached = true
	}

	v := change.Value
	at := change.At
	view.Value = &v
	view.Formatted = change.Formatted
	view.Rupiah = format.Rupiah(v)
	view.ChangedAt = &at
	view.Seq = change.Seq
	return view
}

func (b *BalanceService) State() StateView {
	stab := b.sched.Stabilizer()
	return StateView{
		Stabilizer: stab.Snapshot(),
		Pending:    stab.Pending(),
		Schedule:   b.sched.Status(),
	}
}

type historyEntry struct {
	Changes   []models.BalanceChange `json:"changes"`
	FetchedAt time.Time              `json:"fetched_at"`
}

const staleFactor = 30

// History returns the newest limit changes from the change store. A cached
// result younger than the history TTL is returned as is; when the store
// fails an older cached result is returned with Stale set.
func (b *BalanceService) History(ctx context.Context, limit int) (HistoryView, error) {
	if b.changes == nil {
		return HistoryView{}, ErrHistoryUnavailable
	}

	key := fmt.Sprintf("balance:history:%d", limit)
	var (
		cached historyEntry
		hit    bool
	)
	if b.cache != nil && b.historyTTL > 0 {
		if err := b.cache.Get(ctx, key, &cached); err == nil {
			hit = true
			if b.now().Sub(cached.FetchedAt) < b.historyTTL {
				return HistoryView{Changes: cached.Changes, FetchedAt: cached.FetchedAt}, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			b.log.Warn("history cache read failed", logger.Error(err))
		}
	}

	changes, err := b.changes.Recent(ctx, limit)
	if err != nil {
		if hit {
			b.log.Warn("serving stale history", logger.Error(err))
			return HistoryView{Changes: cached.Changes, FetchedAt: cached.FetchedAt, Stale: true}, nil
		}
		return HistoryView{}, fmt.Errorf("history: %w", err)
	}
	if changes == nil {
		changes = []models.BalanceChange{}
	}

	entry := historyEntry{Changes: changes, FetchedAt: b.now()}
	if b.cache != nil && b.historyTTL > 0 {
		if err := b.cache.Set(ctx, key, entry, b.historyTTL*staleFactor); err != nil {
			b.log.Warn("history cache write failed", logger.Error(err))
		}
	}
	return HistoryView{Changes: entry.Changes, FetchedAt: entry.FetchedAt}, nil
}

// Refresh asks for an immediate poll.
func (b *BalanceService) Refresh(reason string) error {
	if !b.sched.Trigger(reason) {
		return ErrRefreshDropped
	}
	return nil
}

// Reset clears the stabilizer, the last announced value and the snapshot.
// The next confirmation is announced without a previous value.
func (b *BalanceService) Reset(ctx context.Context) error {
	b.sched.Reset()
	b.mu.Lock()
	b.snapshot = nil
	b.mu.Unlock()
	if b.snapshots == nil {
		return nil
	}
	var err error
	if b.snapshotSeq != nil {
		err = b.snapshotSeq.Do(ctx, b.snapshots.Clear)
	} else {
		err = b.snapshots.Clear(ctx)
	}
	if err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// Health reports each configured backend; a nil error means healthy.
func (b *BalanceService) Health(ctx context.Context) map[string]error {
	out := map[string]error{}
	if b.changes != nil {
		out["clickhouse"] = b.changes.Health(ctx)
	}
	return out
}
