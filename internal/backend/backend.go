package backend

import (
	"log/slog"
	"time"
)

// HostFunc is a host-backed function callable from scripts. Function handles
// among args are borrowed for the duration of the call; a HostFunc that keeps
// one must Clone it.
type HostFunc func(args []any) ([]any, error)

// Function is a handle to a callable living inside an interpreter. Handles
// returned by LoadString, WrapHostFunction and CallFunction are owned by the
// caller, who releases them when done.
type Function interface {
	// Clone returns a new owned reference to the same callable.
	Clone() Function
	// Release drops this reference. Using a released handle fails with
	// HandleNotFoundError.
	Release()
}

// Interpreter is one script runtime instance. An Interpreter is used by one
// goroutine at a time; re-entrant calls from a HostFunc back into the
// interpreter are allowed and strictly nested.
type Interpreter interface {
	// LoadString compiles source into a callable chunk. Compile failures are
	// returned as *SyntaxError.
	LoadString(source, chunkName string) (Function, error)

	// CallFunction calls fn with args and returns all of its results.
	CallFunction(fn Function, args ...any) ([]any, error)

	// RegisterLibrary installs funcs as a table at the dotted global path
	// name. Registering the same name again merges into the existing table.
	RegisterLibrary(name string, funcs map[string]HostFunc) error

	// WrapHostFunction returns a script callable that invokes fn.
	WrapHostFunction(fn HostFunc) (Function, error)

	// IsScriptFunction reports whether v is a function handle of this
	// interpreter.
	IsScriptFunction(v any) bool

	// PauseUsageTimer stops CPU accounting. Calls nest and must be matched
	// by UnpauseUsageTimer.
	PauseUsageTimer()
	UnpauseUsageTimer()

	// Usage reports the resources consumed so far.
	Usage() Usage

	// Close releases the interpreter. Close is idempotent.
	Close() error
}

// Usage is the resource consumption of one interpreter.
type Usage struct {
	CPU        time.Duration `json:"cpu"`
	CPULimit   time.Duration `json:"cpu_limit"`
	PeakMemory uint64        `json:"peak_memory"`
	MemLimit   uint64        `json:"memory_limit"`
}

// Status describes a running interpreter process.
type Status struct {
	CPU   time.Duration `json:"cpu"`
	VSize uint64        `json:"vsize"`
	PID   int           `json:"pid"`
}

// StatusReporter is implemented by interpreters that can describe their
// process. Status returns ErrStatusUnavailable where the platform cannot.
type StatusReporter interface {
	Status() (Status, error)
}

// ProfileSample is the share of samples attributed to one function.
type ProfileSample struct {
	Function string  `json:"function"`
	Samples  int     `json:"samples"`
	Percent  float64 `json:"percent"`
}

// Profiler is implemented by interpreters that sample where scripts spend
// their time.
type Profiler interface {
	ProfileSamples() []ProfileSample
}

// ChunkCleaner is implemented by interpreters that defer releasing remote
// handles until the next round trip.
type ChunkCleaner interface {
	CleanupChunks() error
}

// Config carries the settings shared by all backends.
type Config struct {
	// CPULimit bounds the script time of the interpreter's lifetime.
	CPULimit time.Duration
	// MemoryLimit bounds heap growth in bytes. Zero disables the check.
	MemoryLimit uint64
	// ProfilerPeriod is the sampling period. Zero disables profiling.
	ProfilerPeriod time.Duration
	// MaxStringLength bounds strings built by string.rep. Zero takes the
	// value package default.
	MaxStringLength int

	// LuaPath and LuaArgs locate the child runtime of the subprocess
	// backend.
	LuaPath string
	LuaArgs []string
	// ErrorFile receives the child's diagnostics.
	ErrorFile string

	Logger *slog.Logger
}

// Log returns the configured logger or slog.Default.
func (c Config) Log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Backend creates interpreters of one kind.
type Backend interface {
	// NewInterpreter starts a fresh interpreter.
	NewInterpreter(cfg Config) (Interpreter, error)

	// Capabilities reports what interpreters of this backend support.
	Capabilities() Capabilities
}

// Capabilities describes a backend.
type Capabilities struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	OutOfProcess bool   `json:"out_of_process"`
	Profiling    bool   `json:"profiling"`
	Status       bool   `json:"status"`
}
