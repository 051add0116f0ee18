package governor

import (
	"fmt"
	"sync"
)

// Op names a host operation that the expensive-call policy knows about.
type Op string

const (
	OpScriptIncrement     Op = "script.increment"
	OpTitleExists         Op = "title.exists"
	OpTitleRedirect       Op = "title.redirect"
	OpTitleProtection     Op = "title.protection"
	OpSitePagesInCategory Op = "site.pagesInCategory"
	OpTitleContent        Op = "title.content"
)

// Origin says who decides that an operation is charged.
type Origin int

const (
	// OriginScript operations are charged because the script asked.
	OriginScript Origin = iota
	// OriginLibrary operations are charged by the library implementing them.
	OriginLibrary
)

// Policy describes how one operation is accounted.
type Policy struct {
	Origin    Origin
	Expensive bool
}

// Policies is the complete accounting table. Operations outside it are
// rejected by Charge.
var Policies = map[Op]Policy{
	OpScriptIncrement:     {Origin: OriginScript, Expensive: true},
	OpTitleExists:         {Origin: OriginLibrary, Expensive: true},
	OpTitleRedirect:       {Origin: OriginLibrary, Expensive: true},
	OpTitleProtection:     {Origin: OriginLibrary, Expensive: true},
	OpSitePagesInCategory: {Origin: OriginLibrary, Expensive: true},
	OpTitleContent:        {Origin: OriginLibrary, Expensive: false},
}

// DefaultExpensiveLimit is the default number of expensive calls allowed per
// engine.
const DefaultExpensiveLimit = 500

// ExpensiveLimitError is returned once the budget is spent.
type ExpensiveLimitError struct {
	Limit int
}

func (e *ExpensiveLimitError) Error() string { return "too many expensive function calls" }

// UnknownOpError is returned for an operation missing from Policies.
type UnknownOpError struct {
	Op Op
}

func (e *UnknownOpError) Error() string {
	return fmt.Sprintf("governor: no expensive-call policy for %q", e.Op)
}

// ExpensiveBudget counts expensive operations against a limit.
type ExpensiveBudget struct {
	mu    sync.Mutex
	limit int
	count int
	byOp  map[Op]int
}

// NewExpensiveBudget returns an empty budget. A limit of zero or less uses
// DefaultExpensiveLimit.
func NewExpensiveBudget(limit int) *ExpensiveBudget {
	if limit <= 0 {
		limit = DefaultExpensiveLimit
	}
	return &ExpensiveBudget{limit: limit, byOp: make(map[Op]int)}
}

// Charge accounts one occurrence of op.
func (b *ExpensiveBudget) Charge(op Op) error {
	p, ok := Policies[op]
	if !ok {
		return &UnknownOpError{Op: op}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byOp[op]++
	if !p.Expensive {
		return nil
	}
	b.count++
	if b.count > b.limit {
		limitExceeded.WithLabelValues(kindExpensive).Inc()
		return &ExpensiveLimitError{Limit: b.limit}
	}
	return nil
}

// Count returns the number of expensive calls charged.
func (b *ExpensiveBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Calls returns how often op was charged, expensive or not.
func (b *ExpensiveBudget) Calls(op Op) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byOp[op]
}

// Limit returns the budget limit.
func (b *ExpensiveBudget) Limit() int { return b.limit }
