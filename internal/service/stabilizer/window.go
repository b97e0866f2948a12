package stabilizer

import "KasPull/internal/domain/models"

// Window is a bounded FIFO of the most recent readings.
type Window struct {
	readings []models.Reading
	size     int
}

// NewWindow creates a window holding at most size readings.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		readings: make([]models.Reading, 0, size),
		size:     size,
	}
}

// Push appends r, evicting the oldest reading when full.
func (w *Window) Push(r models.Reading) {
	if len(w.readings) >= w.size {
		copy(w.readings, w.readings[1:])
		w.readings[len(w.readings)-1] = r
		return
	}
	w.readings = append(w.readings, r)
}

func (w *Window) Clear() { w.readings = w.readings[:0] }

// Values returns the window values, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.readings))
	for i, r := range w.readings {
		out[i] = r.Value
	}
	return out
}

// Vote returns the most frequent value and its count. Ties go to the
// value whose latest occurrence is more recent.
func (w *Window) Vote() (value float64, count int, ok bool) {
	if len(w.readings) == 0 {
		return 0, 0, false
	}
	counts := make(map[float64]int, len(w.readings))
	last := make(map[float64]int, len(w.readings))
	for i, r := range w.readings {
		counts[r.Value]++
		last[r.Value] = i
	}

	bestIdx := -1
	for v, c := range counts {
		if c > count || (c == count && last[v] > bestIdx) {
			value, count, bestIdx = v, c, last[v]
		}
	}
	return value, count, true
}

// All reports whether every reading satisfies fn.
func (w *Window) All(fn func(models.Reading) bool) bool {
	for _, r := range w.readings {
		if !fn(r) {
			return false
		}
	}
	return true
}
