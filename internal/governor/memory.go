package governor

import (
	"runtime/metrics"
	"sync"
	"time"
)

// DefaultMemoryInterval is the default sampling interval of a MemoryWatcher.
const DefaultMemoryInterval = 5 * time.Millisecond

const liveHeapMetric = "/gc/heap/live:bytes"

// ReadLiveHeap returns the live heap size as of the last garbage collection.
func ReadLiveHeap() uint64 {
	s := []metrics.Sample{{Name: liveHeapMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}

// MemoryWatcher samples heap growth from a baseline taken at Start and calls
// OnExceed once when the growth passes the limit. The measurement is process
// wide, so it is an approximation when several interpreters share a process.
// A zero limit only records the peak.
type MemoryWatcher struct {
	limit    uint64
	interval time.Duration
	read     func() uint64

	mu       sync.Mutex
	onExceed func()
	baseline uint64
	peak     uint64
	exceeded bool
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryWatcher returns a stopped watcher.
func NewMemoryWatcher(limit uint64, interval time.Duration, onExceed func()) *MemoryWatcher {
	if interval <= 0 {
		interval = DefaultMemoryInterval
	}
	return &MemoryWatcher{limit: limit, interval: interval, onExceed: onExceed, read: ReadLiveHeap}
}

// SetOnExceed replaces the callback.
func (w *MemoryWatcher) SetOnExceed(f func()) {
	w.mu.Lock()
	w.onExceed = f
	w.mu.Unlock()
}

// Limit returns the configured limit.
func (w *MemoryWatcher) Limit() uint64 { return w.limit }

// Start takes the baseline and begins sampling. Starting a running watcher
// has no effect.
func (w *MemoryWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	w.baseline = w.read()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(w.stop, w.done)
}

// Stop ends sampling after one final sample.
func (w *MemoryWatcher) Stop() {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.stop, w.done = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	w.Sample()
}

func (w *MemoryWatcher) loop(stop, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			w.Sample()
		}
	}
}

// Sample takes one measurement now and returns the growth over the baseline.
func (w *MemoryWatcher) Sample() uint64 {
	cur := w.read()
	w.mu.Lock()
	var growth uint64
	if cur > w.baseline {
		growth = cur - w.baseline
	}
	if growth > w.peak {
		w.peak = growth
	}
	var f func()
	if w.limit > 0 && growth > w.limit && !w.exceeded {
		w.exceeded = true
		limitExceeded.WithLabelValues(kindMemory).Inc()
		f = w.onExceed
	}
	w.mu.Unlock()
	if f != nil {
		f()
	}
	return growth
}

// Peak returns the largest growth observed.
func (w *MemoryWatcher) Peak() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peak
}

// Exceeded reports whether the limit was passed.
func (w *MemoryWatcher) Exceeded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exceeded
}
