package stabilizer

import (
	"testing"
	"time"

	"KasPull/internal/domain/models"
)

var t0 = time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)

func feed(s *Stabilizer, values ...float64) []Result {
	out := make([]Result, 0, len(values))
	for i, v := range values {
		out = append(out, s.Ingest(models.Reading{Value: v, ObservedAt: t0.Add(time.Duration(i) * 15 * time.Second)}))
	}
	return out
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		w.Push(models.Reading{Value: float64(i)})
	}
	got := w.Values()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("unexpected window %v", got)
	}
}

func TestWindowVoteTieBreakRecency(t *testing.T) {
	w := NewWindow(5)
	for _, v := range []float64{1, 2, 2, 1} {
		w.Push(models.Reading{Value: v})
	}
	v, c, ok := w.Vote()
	if !ok || v != 1 || c != 2 {
		t.Fatalf("expected 1x2, got %vx%d ok=%v", v, c, ok)
	}
	w.Push(models.Reading{Value: 2})
	if v, c, _ = w.Vote(); v != 2 || c != 3 {
		t.Fatalf("expected 2x3, got %vx%d", v, c)
	}
}

func TestWindowVoteEmpty(t *testing.T) {
	if _, _, ok := NewWindow(5).Vote(); ok {
		t.Fatalf("expected no vote on empty window")
	}
}

func TestConfirmsRepeatedValue(t *testing.T) {
	s := New(DefaultConfig())
	res := feed(s, 100, 100, 100, 100)
	if res[0].Kind != Unchanged {
		t.Fatalf("first reading must not confirm")
	}
	if res[1].Kind != Confirmed || res[1].Value != 100 || res[1].HadPrevious {
		t.Fatalf("expected Confirmed(100) on second reading, got %+v", res[1])
	}
	for i, r := range res[2:] {
		if r.Kind != Unchanged {
			t.Fatalf("reading %d: expected unchanged, got %v", i+2, r.Kind)
		}
	}
	st := s.Stable()
	if !st.Set || st.Value != 100 || !st.LastChangedAt.Equal(t0.Add(15*time.Second)) {
		t.Fatalf("unexpected stable %+v", st)
	}
}

func TestLargeJumpNeedsFreshConfirmation(t *testing.T) {
	s := New(DefaultConfig())
	res := feed(s, 100, 100, 100, 260)
	if res[3].Kind != Unchanged {
		t.Fatalf("single spike confirmed: %+v", res[3])
	}
	if got := s.Snapshot().Window; len(got) != 1 || got[0] != 260 {
		t.Fatalf("expected history cleared to [260], got %v", got)
	}

	r := s.Ingest(models.Reading{Value: 260, ObservedAt: t0.Add(time.Minute)})
	if r.Kind != Confirmed || r.Value != 260 || !r.HadPrevious || r.Previous != 100 {
		t.Fatalf("expected Confirmed(260) from 100, got %+v", r)
	}
}

func TestOutlierNeverEmitted(t *testing.T) {
	sequences := [][]float64{
		{100, 100, 999, 100, 100},
		{100, 100, 120, 100, 100, 100},
		{100, 100, 100, 0.5, 100, 100},
		{50, 100, 100, 100, 7, 100},
	}
	for _, seq := range sequences {
		s := New(DefaultConfig())
		for i, r := range feed(s, seq...) {
			if r.Kind == Confirmed && r.Value != 100 {
				t.Fatalf("seq %v: outlier %v confirmed at %d", seq, r.Value, i)
			}
		}
		if st := s.Stable(); st.Value != 100 {
			t.Fatalf("seq %v: expected stable 100, got %v", seq, st.Value)
		}
	}
}

func TestSmallChangeConfirmsAfterTwoReadings(t *testing.T) {
	s := New(DefaultConfig())
	feed(s, 100, 100)
	res := feed(s, 110, 110)
	if res[0].Kind != Unchanged || res[1].Kind != Confirmed || res[1].Value != 110 {
		t.Fatalf("unexpected results %+v", res)
	}
}

func TestSlowConfirmationAcrossRounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequiredConfirmations = 3
	s := New(cfg)
	res := feed(s, 100, 100, 100, 100)
	for i := 0; i < 3; i++ {
		if res[i].Kind != Unchanged {
			t.Fatalf("reading %d confirmed below R=3: %+v", i, res[i])
		}
	}
	if res[3].Kind != Confirmed || res[3].Value != 100 {
		t.Fatalf("expected confirmation on the fourth reading, got %+v", res[3])
	}
}

func TestZeroStableNeverTripsGuard(t *testing.T) {
	s := New(DefaultConfig())
	feed(s, 0, 0)
	feed(s, 0)
	s.Ingest(models.Reading{Value: 500})
	if got := s.Snapshot().Window; len(got) != 2 {
		t.Fatalf("expected window kept, got %v", got)
	}
}

func TestPendingAndReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequiredConfirmations = 3
	s := New(cfg)
	feed(s, 100, 100, 100, 100)
	if s.Pending() {
		t.Fatalf("nothing pending after confirmation")
	}

	feed(s, 120, 120)
	if !s.Pending() {
		t.Fatalf("expected 120 pending")
	}
	snap := s.Snapshot()
	if snap.Candidate == nil || *snap.Candidate != 120 || snap.ConfirmCount != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	s.Reset()
	snap = s.Snapshot()
	if snap.Stable.Set || len(snap.Window) != 0 || snap.Candidate != nil || snap.ConfirmCount != 0 {
		t.Fatalf("reset left state behind: %+v", snap)
	}
	if s.Pending() {
		t.Fatalf("nothing pending after reset")
	}
}

func TestIdenticalStableReadingsUnchanged(t *testing.T) {
	s := New(DefaultConfig())
	feed(s, 42, 42)
	for i, r := range feed(s, 42, 42, 42, 42, 42, 42, 42) {
		if r.Kind != Unchanged {
			t.Fatalf("reading %d emitted %+v", i, r)
		}
	}
}
