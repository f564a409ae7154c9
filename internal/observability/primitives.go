package observability

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// histogramWindow bounds how many observations a histogram keeps.
const histogramWindow = 4096

// Histogram tracks the distribution of the most recent duration measurements.
// Thread-safe for concurrent observations.
type Histogram struct {
	mu    sync.Mutex
	ring  []float64 // microseconds
	next  int
	total int64
}

// NewHistogram creates a new histogram.
func NewHistogram() *Histogram {
	return &Histogram{ring: make([]float64, 0, 256)}
}

// Observe records a duration measurement.
func (h *Histogram) Observe(d time.Duration) {
	micros := float64(d.Microseconds())
	h.mu.Lock()
	if len(h.ring) < histogramWindow {
		h.ring = append(h.ring, micros)
	} else {
		h.ring[h.next] = micros
		h.next = (h.next + 1) % histogramWindow
	}
	h.total++
	h.mu.Unlock()
}

// Snapshot returns percentiles over the retained window and the all-time count.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	sorted := append([]float64(nil), h.ring...)
	total := h.total
	h.mu.Unlock()

	if len(sorted) == 0 {
		return HistogramSnapshot{}
	}
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	us := func(v float64) time.Duration { return time.Duration(v) * time.Microsecond }

	return HistogramSnapshot{
		Count: total,
		Mean:  us(sum / float64(len(sorted))),
		P50:   us(percentile(sorted, 0.50)),
		P95:   us(percentile(sorted, 0.95)),
		P99:   us(percentile(sorted, 0.99)),
		Max:   us(sorted[len(sorted)-1]),
	}
}

// HistogramSnapshot holds calculated statistics for a histogram.
type HistogramSnapshot struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// percentile interpolates the p-th percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	rank := p * float64(len(sorted)-1)
	lo, hi := int(math.Floor(rank)), int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	w := rank - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

// HistogramVec is a set of histograms keyed by label.
type HistogramVec struct {
	set labeled[*Histogram]
}

// NewHistogramVec creates a new histogram vector.
func NewHistogramVec() *HistogramVec {
	return &HistogramVec{set: newLabeled(NewHistogram)}
}

// WithLabels returns the histogram for label.
func (hv *HistogramVec) WithLabels(label string) *Histogram {
	return hv.set.get(label)
}

// Snapshot returns snapshots of all histograms.
func (hv *HistogramVec) Snapshot() map[string]HistogramSnapshot {
	out := make(map[string]HistogramSnapshot)
	hv.set.each(func(label string, h *Histogram) { out[label] = h.Snapshot() })
	return out
}

// Counter is a monotonically increasing counter.
type Counter struct {
	v atomic.Int64
}

// NewCounter creates a new counter.
func NewCounter() *Counter { return &Counter{} }

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) { c.v.Add(delta) }

// Get returns the current value.
func (c *Counter) Get() int64 { return c.v.Load() }

// CounterVec is a set of counters keyed by label.
type CounterVec struct {
	set labeled[*Counter]
}

// NewCounterVec creates a new counter vector.
func NewCounterVec() *CounterVec {
	return &CounterVec{set: newLabeled(NewCounter)}
}

// WithLabels returns the counter for label.
func (cv *CounterVec) WithLabels(label string) *Counter {
	return cv.set.get(label)
}

// Snapshot returns the current values of all counters.
func (cv *CounterVec) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	cv.set.each(func(label string, c *Counter) { out[label] = c.Get() })
	return out
}

// Gauge is a value that goes up and down.
type Gauge struct {
	v atomic.Int64
}

// NewGauge creates a new gauge.
func NewGauge() *Gauge { return &Gauge{} }

func (g *Gauge) Set(val int64) { g.v.Store(val) }
func (g *Gauge) Inc()          { g.v.Add(1) }
func (g *Gauge) Dec()          { g.v.Add(-1) }
func (g *Gauge) Get() int64    { return g.v.Load() }

// labeled lazily creates one metric per label.
type labeled[T any] struct {
	mu      sync.RWMutex
	metrics map[string]T
	newFn   func() T
}

func newLabeled[T any](newFn func() T) labeled[T] {
	return labeled[T]{metrics: make(map[string]T), newFn: newFn}
}

func (l *labeled[T]) get(label string) T {
	l.mu.RLock()
	m, ok := l.metrics[label]
	l.mu.RUnlock()
	if ok {
		return m
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.metrics[label]; ok {
		return m
	}
	m = l.newFn()
	l.metrics[label] = m
	return m
}

func (l *labeled[T]) each(fn func(string, T)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for label, m := range l.metrics {
		fn(label, m)
	}
}
