package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"KasPull/internal/domain/models"
	"KasPull/pkg/cache"
)

type memSnapshots struct {
	mu   sync.Mutex
	snap *models.BalanceChange
}

func (m *memSnapshots) Save(_ context.Context, c *models.BalanceChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.snap = &cp
	return nil
}

func (m *memSnapshots) Load(context.Context) (*models.BalanceChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memSnapshots) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}

type fakeChanges struct {
	rows  []models.BalanceChange
	err   error
	calls int
}

func (f *fakeChanges) Append(context.Context, *models.BalanceChange) error { return nil }

func (f *fakeChanges) Recent(_ context.Context, limit int) ([]models.BalanceChange, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeChanges) Health(context.Context) error { return f.err }

func (f *fakeChanges) Close() error { return nil }

func TestBalanceServiceServesSnapshotUntilConfirmed(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 613000}}}
	s, clock, _ := newTestScheduler(src)
	snaps := &memSnapshots{snap: &models.BalanceChange{Seq: 4, Value: 500000, Formatted: "500.000", At: time.Unix(1690000000, 0)}}
	b := NewBalanceService(s, s.notifier, WithSnapshots(snaps))

	if v := b.Current(); v.Value != nil {
		t.Fatalf("expected empty view before restore, got %+v", v)
	}
	if err := b.RestoreSnapshot(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	v := b.Current()
	if v.Value == nil || *v.Value != 500000 || !v.Cached || v.Seq != 4 {
		t.Fatalf("expected cached snapshot, got %+v", v)
	}
	if s.Stabilizer().Stable().Set {
		t.Fatalf("snapshot must not seed the stabilizer")
	}

	_ = s.Start(context.Background())
	s.wg.Wait()
	clock.last().f()
	s.wg.Wait()

	v = b.Current()
	if v.Value == nil || *v.Value != 613000 || v.Cached || v.Formatted != "613.000" {
		t.Fatalf("expected live value, got %+v", v)
	}
	if v.Rupiah != "Rp 613.000" || v.Connectivity != models.ConnOnline {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestBalanceServiceResetClearsSnapshot(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 1}}}
	s, _, _ := newTestScheduler(src)
	snaps := &memSnapshots{snap: &models.BalanceChange{Value: 5}}
	b := NewBalanceService(s, s.notifier, WithSnapshots(snaps))
	_ = b.RestoreSnapshot(context.Background())

	if err := b.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if v := b.Current(); v.Value != nil {
		t.Fatalf("expected empty view after reset, got %+v", v)
	}
	if snap, _ := snaps.Load(context.Background()); snap != nil {
		t.Fatalf("snapshot not cleared")
	}
}

func TestBalanceServiceRefresh(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 1}}, gate: make(chan struct{})}
	s, _, _ := newTestScheduler(src)
	b := NewBalanceService(s, s.notifier)

	if err := b.Refresh("manual"); !errors.Is(err, ErrRefreshDropped) {
		t.Fatalf("refresh before start should be dropped, got %v", err)
	}
	_ = s.Start(context.Background())
	if err := b.Refresh("manual"); !errors.Is(err, ErrRefreshDropped) {
		t.Fatalf("refresh during poll should be dropped, got %v", err)
	}
	close(src.gate)
	s.wg.Wait()
	if err := b.Refresh("manual"); err != nil {
		t.Fatalf("refresh after poll: %v", err)
	}
	s.wg.Wait()
}

func TestBalanceServiceHistoryCachesAndServesStale(t *testing.T) {
	src := &scriptedSource{steps: []step{{value: 1}}}
	s, _, _ := newTestScheduler(src)
	store := &fakeChanges{rows: []models.BalanceChange{{Seq: 2, Value: 20}, {Seq: 1, Value: 10}}}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	b := NewBalanceService(s, s.notifier, WithChangeStore(store), WithHistoryCache(mc, 10*time.Second))

	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	h, err := b.History(ctx, 1)
	if err != nil || len(h.Changes) != 1 || h.Changes[0].Seq != 2 || h.Stale {
		t.Fatalf("unexpected history %+v err=%v", h, err)
	}
	if _, err := b.History(ctx, 1); err != nil || store.calls != 1 {
		t.Fatalf("expected cached read, calls=%d err=%v", store.calls, err)
	}

	now = now.Add(11 * time.Second)
	store.err = errors.New("clickhouse down")
	h, err = b.History(ctx, 1)
	if err != nil || !h.Stale || len(h.Changes) != 1 {
		t.Fatalf("expected stale history, got %+v err=%v", h, err)
	}

	if _, err := b.History(ctx, 5); err == nil {
		t.Fatalf("expected error without a cached entry")
	}
}

func TestBalanceServiceHistoryUnavailable(t *testing.T) {
	s, _, _ := newTestScheduler(&scriptedSource{steps: []step{{value: 1}}})
	b := NewBalanceService(s, s.notifier)
	if _, err := b.History(context.Background(), 10); !errors.Is(err, ErrHistoryUnavailable) {
		t.Fatalf("expected ErrHistoryUnavailable, got %v", err)
	}
}

// queuedSaves holds saves until the next Do, like a pipeline with a backlog.
type queuedSaves struct {
	store   *memSnapshots
	pending []models.BalanceChange
}

func (q *queuedSaves) Do(ctx context.Context, op func(context.Context) error) error {
	for i := range q.pending {
		if err := q.store.Save(ctx, &q.pending[i]); err != nil {
			return err
		}
	}
	q.pending = nil
	return op(ctx)
}

func TestBalanceServiceResetClearsAfterQueuedSaves(t *testing.T) {
	s, _, _ := newTestScheduler(&scriptedSource{steps: []step{{value: 1}}})
	snaps := &memSnapshots{}
	seq := &queuedSaves{store: snaps, pending: []models.BalanceChange{{Seq: 9, Value: 42}}}
	b := NewBalanceService(s, s.notifier, WithSnapshots(snaps), WithSnapshotSequencer(seq))

	if err := b.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if snap, _ := snaps.Load(context.Background()); snap != nil {
		t.Fatalf("queued save survived reset: %+v", snap)
	}
}
