package stabilizer

import (
	"math"
	"sync"
	"time"

	"KasPull/internal/domain/models"
)

// Config holds the voting parameters.
type Config struct {
	WindowSize            int
	RequiredConfirmations int
	ResetThreshold        float64
	MinSupport            int
}

// DefaultConfig returns N=5, R=2, T=50%, support 2.
func DefaultConfig() Config {
	return Config{
		WindowSize:            5,
		RequiredConfirmations: 2,
		ResetThreshold:        0.5,
		MinSupport:            2,
	}
}

// Kind is the outcome of a single Ingest.
type Kind int

const (
	Unchanged Kind = iota
	Confirmed
)

func (k Kind) String() string {
	if k == Confirmed {
		return "confirmed"
	}
	return "unchanged"
}

// Result describes what Ingest decided for one reading.
type Result struct {
	Kind        Kind
	Value       float64
	Previous    float64
	HadPrevious bool
	At          time.Time
}

// State is a point-in-time copy of the stabilizer internals.
type State struct {
	Window       []float64          `json:"window"`
	Candidate    *float64           `json:"candidate,omitempty"`
	ConfirmCount int                `json:"confirm_count"`
	Stable       models.StableValue `json:"stable"`
}

// Stabilizer turns noisy readings into a debounced stable value.
type Stabilizer struct {
	mu  sync.Mutex
	cfg Config

	window       *Window
	candidate    float64
	hasCandidate bool
	confirmCount int
	stable       models.StableValue
}

func New(cfg Config) *Stabilizer {
	def := DefaultConfig()
	if cfg.WindowSize < 1 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.RequiredConfirmations < 1 {
		cfg.RequiredConfirmations = def.RequiredConfirmations
	}
	if cfg.ResetThreshold <= 0 {
		cfg.ResetThreshold = def.ResetThreshold
	}
	if cfg.MinSupport < 1 {
		cfg.MinSupport = def.MinSupport
	}
	return &Stabilizer{cfg: cfg, window: NewWindow(cfg.WindowSize)}
}

// Ingest consumes one reading. It never fails.
func (s *Stabilizer) Ingest(r models.Reading) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{Kind: Unchanged, At: r.ObservedAt}

	// A jump away from stable discards votes still cast for the old value.
	if s.deviates(r.Value) && !s.window.All(func(w models.Reading) bool { return s.deviates(w.Value) }) {
		s.clearVotes()
	}

	s.window.Push(r)

	winner, count, ok := s.window.Vote()
	if !ok || count < s.cfg.MinSupport {
		return res
	}

	fast := false
	if s.hasCandidate && winner == s.candidate {
		s.confirmCount++
	} else {
		s.candidate = winner
		s.hasCandidate = true
		s.confirmCount = 1
		fast = count >= s.cfg.RequiredConfirmations
	}

	if (s.confirmCount >= s.cfg.RequiredConfirmations || fast) && (!s.stable.Set || winner != s.stable.Value) {
		res.Kind = Confirmed
		res.Value = winner
		res.Previous = s.stable.Value
		res.HadPrevious = s.stable.Set

		s.stable = models.StableValue{Value: winner, Set: true, LastChangedAt: r.ObservedAt}
		s.clearVotes()
	}
	return res
}

// deviates reports whether v is further than the reset threshold from
// the stable value. A zero stable value never trips the guard.
func (s *Stabilizer) deviates(v float64) bool {
	if !s.stable.Set || s.stable.Value == 0 {
		return false
	}
	return math.Abs(v-s.stable.Value)/math.Abs(s.stable.Value) > s.cfg.ResetThreshold
}

func (s *Stabilizer) clearVotes() {
	s.window.Clear()
	s.candidate = 0
	s.hasCandidate = false
	s.confirmCount = 0
}

// Reset clears the window, candidate and stable value.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearVotes()
	s.stable = models.StableValue{}
}

// Stable returns the current authoritative value.
func (s *Stabilizer) Stable() models.StableValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stable
}

// Pending reports whether a candidate other than the stable value is
// collecting confirmations.
func (s *Stabilizer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasCandidate {
		return false
	}
	return !s.stable.Set || s.candidate != s.stable.Value
}

func (s *Stabilizer) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Window:       s.window.Values(),
		ConfirmCount: s.confirmCount,
		Stable:       s.stable,
	}
	if s.hasCandidate {
		c := s.candidate
		st.Candidate = &c
	}
	return st
}
