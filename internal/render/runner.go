package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/scribe/internal/engine"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// DefaultTimeout bounds an invocation when none is specified.
const DefaultTimeout = 30 * time.Second

// Runner executes recorded invocations. Every invocation gets its own Host
// and Engine; mw.log lines are persisted and published to the broker.
type Runner struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
	wg     sync.WaitGroup
	broker *engine.LogBroker
	active atomic.Int64
}

// NewRunner creates a runner rendering for cfg.
func NewRunner(s store.Store, cfg Config, logger *slog.Logger) *Runner {
	return &Runner{
		store:  s,
		cfg:    cfg,
		logger: logger,
		broker: engine.NewLogBroker(0),
	}
}

// Broker returns the runner's log broker for SSE subscription.
func (r *Runner) Broker() *engine.LogBroker {
	return r.broker
}

// Submit creates an invocation record and launches execution in a
// goroutine. The invocation is stored with status "pending" before
// returning. The goroutine works on a copy of inv.
func (r *Runner) Submit(ctx context.Context, inv *model.Invocation) error {
	if err := r.store.CreateInvocation(ctx, inv); err != nil {
		return fmt.Errorf("create invocation: %w", err)
	}

	invCopy := *inv
	r.wg.Go(func() {
		r.execute(context.Background(), &invCopy)
	})

	return nil
}

// Run creates an invocation record, executes it and returns the finished
// record.
func (r *Runner) Run(ctx context.Context, inv *model.Invocation) (*model.Invocation, error) {
	if err := r.store.CreateInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invocation: %w", err)
	}
	r.execute(ctx, inv)
	return r.store.GetInvocation(context.WithoutCancel(ctx), inv.ID)
}

// NewHost returns a Host on the runner's store and site. The caller closes
// it.
func (r *Runner) NewHost(opts ...engine.Option) *Host {
	return r.host("", opts...)
}

func (r *Runner) host(backendName string, opts ...engine.Option) *Host {
	cfg := r.cfg
	cfg.Engine.Logger = r.logger
	if backendName != "" {
		cfg.Engine.Backend = backendName
	}
	return NewHost(r.store, cfg, opts...)
}

// Backend is the backend name invocations run on when they name none.
func (r *Runner) Backend() string {
	return r.cfg.Engine.Backend
}

// Active reports how many invocations are executing.
func (r *Runner) Active() int64 {
	return r.active.Load()
}

// Wait blocks until all in-flight invocations complete.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// execute runs the invocation lifecycle: pending, running, then completed
// or failed.
func (r *Runner) execute(parent context.Context, inv *model.Invocation) {
	r.active.Add(1)
	defer r.active.Add(-1)
	defer r.broker.Close(inv.ID)
	bg := context.WithoutCancel(parent)

	if err := r.store.UpdateInvocationStatus(bg, inv.ID, model.StatusRunning); err != nil {
		r.logger.Error("failed to transition to running", "invocation_id", inv.ID, "error", err)
		r.finishFailed(inv.ID, nil, fmt.Sprintf("failed to start: %v", err), nil, "")
		return
	}
	start := time.Now()

	timeout := DefaultTimeout
	if r.cfg.Timeout > 0 {
		timeout = r.cfg.Timeout
	}
	if inv.TimeoutS != nil && *inv.TimeoutS > 0 {
		timeout = time.Duration(*inv.TimeoutS) * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	// Every log line is persisted for history, then published for SSE.
	var seq atomic.Int32
	logLine := func(line string) {
		n := int(seq.Add(1) - 1)
		if err := r.store.InsertLogLine(bg, inv.ID, n, line); err != nil {
			r.logger.Error("failed to persist log line", "invocation_id", inv.ID, "seq", n, "error", err)
		}
		r.broker.Publish(inv.ID, line)
	}

	host := r.host(inv.Backend, engine.WithLogFunc(logLine))
	defer func() {
		if err := host.Close(); err != nil {
			r.logger.Warn("destroy engine", "invocation_id", inv.ID, "error", err)
		}
	}()

	args := make(engine.Args, len(inv.Args))
	for i, a := range inv.Args {
		args[i] = engine.Arg{Name: a.Name, Value: a.Value}
	}
	title := inv.Title
	if title == "" {
		title = ModuleTitle(inv.Module)
	}

	out, err := host.Invoke(ctx, inv.Module, inv.Function, title, args)
	usage, backendName := host.Usage()
	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("invocation timed out after %s", timeout)
		}
		r.finishFailed(inv.ID, &start, msg, &usage, backendName)
		return
	}

	now := time.Now().UTC()
	done := &model.Invocation{
		ID:         inv.ID,
		Status:     model.StatusCompleted,
		Backend:    backendName,
		Output:     out,
		StartedAt:  &start,
		FinishedAt: &now,
	}
	applyUsage(done, usage, time.Since(start))
	if err := r.store.UpdateInvocation(bg, done); err != nil {
		r.logger.Error("failed to update completed invocation", "invocation_id", inv.ID, "error", err)
	}
	r.logger.Info("invocation completed",
		"invocation_id", inv.ID,
		"module", inv.Module,
		"function", inv.Function,
		"backend", backendName,
		"duration_ms", *done.DurationMS,
	)
}

// applyUsage copies the engine's resource report onto inv.
func applyUsage(inv *model.Invocation, u engine.ResourceUsage, elapsed time.Duration) {
	dur := int(elapsed.Milliseconds())
	cpu := int(math.Round(u.CPUSeconds * 1000))
	mem := int64(u.PeakMemoryBytes)
	calls := u.ExpensiveCalls
	inv.DurationMS = &dur
	inv.CPUMS = &cpu
	inv.PeakMem = &mem
	inv.ExpensiveCalls = &calls
	if u.TTLSeconds != nil {
		ttl := int(*u.TTLSeconds)
		inv.TTLSeconds = &ttl
	}
}

// finishFailed marks an invocation as failed with the given error message.
// startedAt and usage may be nil if execution never started.
func (r *Runner) finishFailed(id string, startedAt *time.Time, errMsg string, usage *engine.ResourceUsage, backendName string) {
	now := time.Now().UTC()
	inv := &model.Invocation{
		ID:         id,
		Status:     model.StatusFailed,
		Backend:    backendName,
		Error:      errMsg,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}
	var elapsed time.Duration
	if startedAt != nil {
		elapsed = time.Since(*startedAt)
	}
	if usage != nil {
		applyUsage(inv, *usage, elapsed)
	} else {
		d := int(elapsed.Milliseconds())
		inv.DurationMS = &d
	}

	if err := r.store.UpdateInvocation(context.Background(), inv); err != nil {
		r.logger.Error("failed to update failed invocation", "invocation_id", id, "error", err)
	}
}
