package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencyWindow keeps the most recent durations for percentile queries.
// Prometheus histograms only expose buckets, callers here need exact
// p50/p95/p99 of recent samples.
type LatencyWindow struct {
	mu    sync.Mutex
	buf   []time.Duration
	next  int
	full  bool
	count int64
	sum   time.Duration
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 4096
	}
	return &LatencyWindow{buf: make([]time.Duration, size)}
}

func (w *LatencyWindow) Observe(d time.Duration) {
	w.mu.Lock()
	w.buf[w.next] = d
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
	w.count++
	w.sum += d
	w.mu.Unlock()
}

// Summary is computed over the retained samples; Count and Mean cover
// every observation.
type Summary struct {
	Count int64
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

func (w *LatencyWindow) Summary() Summary {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.buf)
	}
	samples := append([]time.Duration(nil), w.buf[:n]...)
	s := Summary{Count: w.count}
	if w.count > 0 {
		s.Mean = w.sum / time.Duration(w.count)
	}
	w.mu.Unlock()

	if len(samples) == 0 {
		return s
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	s.P50 = Percentile(samples, 0.50)
	s.P95 = Percentile(samples, 0.95)
	s.P99 = Percentile(samples, 0.99)
	return s
}

// Percentile uses nearest rank on an ascending slice.
func Percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted))+0.999999) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
