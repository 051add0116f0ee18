package model

import "time"

// Invocation status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether status is final.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Arg is one argument of an invocation. Positional arguments are named by
// their 1-based index.
type Arg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Invocation is one recorded call of a module function.
type Invocation struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Module         string     `json:"module"`
	Function       string     `json:"function"`
	Title          string     `json:"title"`
	Args           []Arg      `json:"args,omitempty"`
	Backend        string     `json:"backend"`
	Output         string     `json:"output,omitempty"`
	Error          string     `json:"error,omitempty"`
	CPUMS          *int       `json:"cpu_ms,omitempty"`
	PeakMem        *int64     `json:"peak_mem,omitempty"`
	ExpensiveCalls *int       `json:"expensive_calls,omitempty"`
	TTLSeconds     *int       `json:"ttl_s,omitempty"`
	TimeoutS       *int       `json:"timeout_s,omitempty"`
	DurationMS     *int       `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// LogLine is a single persisted mw.log line of an invocation.
type LogLine struct {
	ID           int64     `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Seq          int       `json:"seq"`
	Line         string    `json:"line"`
	CreatedAt    time.Time `json:"created_at"`
}
