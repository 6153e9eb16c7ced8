package health

import "sync"

// DefaultWindow is the number of recent refresh outcomes tracked for uptime %.
const DefaultWindow = 20

// Window is a fixed-size record of recent refresh outcomes, newest last.
//
// All exported methods are safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	size    int
	history []bool
}

// NewWindow returns a Window remembering the last size outcomes. A size of
// zero or less uses DefaultWindow.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Window{size: size, history: make([]bool, 0, size)}
}

// Record appends one outcome, dropping the oldest once the window is full.
func (w *Window) Record(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.history) >= w.size {
		copy(w.history, w.history[1:])
		w.history = w.history[:len(w.history)-1]
	}
	w.history = append(w.history, success)
}

// Len returns how many outcomes are currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.history)
}

// UptimePct returns the percentage of held outcomes that succeeded.
func (w *Window) UptimePct() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.history) == 0 {
		return 100 // assume up before first observation
	}
	var ok int
	for _, s := range w.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(w.history)) * 100
}
