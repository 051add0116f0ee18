package render

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/model"
)

const logModule = `
local p = {}
function p.run(frame)
	mw.log("starting", frame.args[1])
	mw.log("done")
	return "ok " .. frame.args[1]
end
return p
`

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	s := newTestStore(t, map[string]string{"Module:Log": logModule})
	return NewRunner(s, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newInvocation(function string) *model.Invocation {
	return &model.Invocation{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		Module:    "Log",
		Function:  function,
		Args:      []model.Arg{{Name: "1", Value: "x"}},
		Backend:   "auto",
		CreatedAt: nowUTC(),
	}
}

func TestRunnerRun(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()

	got, err := r.Run(ctx, newInvocation("run"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("Status = %q (error %q), want %q", got.Status, got.Error, model.StatusCompleted)
	}
	if got.Output != "ok x" {
		t.Errorf("Output = %q, want %q", got.Output, "ok x")
	}
	if got.Backend != backend.NameSandbox {
		t.Errorf("Backend = %q, want %q", got.Backend, backend.NameSandbox)
	}
	if got.DurationMS == nil || got.CPUMS == nil || got.ExpensiveCalls == nil {
		t.Errorf("usage fields not recorded: %+v", got)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Errorf("StartedAt/FinishedAt = %v/%v, want both set", got.StartedAt, got.FinishedAt)
	}

	lines, err := r.store.GetLogLines(ctx, got.ID)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(lines) != 2 || lines[0].Line != "starting\tx" || lines[1].Line != "done" {
		t.Errorf("log lines = %+v, want [starting\\tx done]", lines)
	}
}

func TestRunnerRunFailure(t *testing.T) {
	r := newTestRunner(t)

	got, err := r.Run(context.Background(), newInvocation("missing"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusFailed)
	}
	if !strings.Contains(got.Error, "does not exist") {
		t.Errorf("Error = %q, want a missing function error", got.Error)
	}
	if got.Output != "" {
		t.Errorf("Output = %q, want empty", got.Output)
	}
}

func TestRunnerSubmitStreamsLogs(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()
	inv := newInvocation("run")

	ch, unsub := r.Broker().Subscribe(inv.ID)
	defer unsub()

	if err := r.Submit(ctx, inv); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var streamed []string
	for line := range ch {
		streamed = append(streamed, line)
	}
	r.Wait()

	if len(streamed) != 2 || streamed[1] != "done" {
		t.Errorf("streamed = %q, want 2 lines ending in done", streamed)
	}
	got, err := r.store.GetInvocation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvocation: %v", err)
	}
	if got.Status != model.StatusCompleted || got.Output != "ok x" {
		t.Errorf("invocation = %q %q, want completed %q", got.Status, got.Output, "ok x")
	}
}

func TestRunnerTitleDefaultsToModule(t *testing.T) {
	s := newTestStore(t, map[string]string{"Module:T": `
local p = {}
function p.title(frame)
	return frame:getParent():getTitle()
end
return p
`})
	r := NewRunner(s, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	inv := newInvocation("title")
	inv.Module = "T"
	got, err := r.Run(context.Background(), inv)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Output != "Module:T" {
		t.Errorf("Output = %q (error %q), want %q", got.Output, got.Error, "Module:T")
	}
}

func nowUTC() time.Time { return time.Now().UTC() }
