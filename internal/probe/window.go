package probe

// window is a fixed-size rolling record of hit/miss outcomes. Once full,
// each new sample evicts the oldest. Not safe for concurrent use; the
// owning record's lock guards it.
type window struct {
	samples []bool // true = hit
	next    int
	filled  int
	misses  int
}

func newWindow(size int) *window {
	return &window{samples: make([]bool, size)}
}

// push records one outcome.
func (w *window) push(hit bool) {
	if w.filled == len(w.samples) {
		// evicting the oldest sample
		if !w.samples[w.next] {
			w.misses--
		}
	} else {
		w.filled++
	}
	w.samples[w.next] = hit
	if !hit {
		w.misses++
	}
	w.next = (w.next + 1) % len(w.samples)
}

// lossRatio is misses over the full window size once filled; before that,
// over the samples recorded so far.
func (w *window) lossRatio() float64 {
	if w.filled == 0 {
		return 0
	}
	return float64(w.misses) / float64(w.filled)
}

func (w *window) size() int { return w.filled }
