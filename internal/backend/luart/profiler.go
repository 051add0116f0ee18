package luart

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/seantiz/scribe/internal/backend"
)

// profiler is a sampling profiler. A ticker marks a sample as due and the VM
// records its position at the next instruction.
type profiler struct {
	period time.Duration
	due    atomic.Bool

	mu     sync.Mutex
	counts map[string]int
	total  int
	quit   chan struct{}
	done   chan struct{}
}

func newProfiler(period time.Duration) *profiler {
	return &profiler{period: period, counts: make(map[string]int)}
}

func (p *profiler) start() {
	p.quit = make(chan struct{})
	p.done = make(chan struct{})
	go func(quit, done chan struct{}) {
		defer close(done)
		tick := time.NewTicker(p.period)
		defer tick.Stop()
		for {
			select {
			case <-quit:
				return
			case <-tick.C:
				p.due.Store(true)
			}
		}
	}(p.quit, p.done)
}

func (p *profiler) stop() {
	if p.quit == nil {
		return
	}
	close(p.quit)
	<-p.done
	p.quit, p.done = nil, nil
	p.due.Store(false)
}

func (p *profiler) record(L *lua.LState) {
	p.due.Store(false)
	where := strings.TrimSuffix(strings.TrimSpace(L.Where(0)), ":")
	if where == "" {
		where = "?"
	}
	p.mu.Lock()
	p.counts[where]++
	p.total++
	p.mu.Unlock()
}

func (p *profiler) samples() []backend.ProfileSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]backend.ProfileSample, 0, len(p.counts))
	for fn, n := range p.counts {
		out = append(out, backend.ProfileSample{
			Function: fn,
			Samples:  n,
			Percent:  100 * float64(n) / float64(p.total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Samples != out[j].Samples {
			return out[i].Samples > out[j].Samples
		}
		return out[i].Function < out[j].Function
	})
	return out
}
