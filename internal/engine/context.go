package engine

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultMaxDepth caps how deep a chain of frames may nest.
const DefaultMaxDepth = 100

// Arg is one named or positional frame argument. Positional arguments are
// named by their 1-based index.
type Arg struct {
	Name  string
	Value string
}

// Args is an ordered argument list.
type Args []Arg

// PositionalArgs builds Args named "1", "2", ... from vals.
func PositionalArgs(vals ...string) Args {
	out := make(Args, len(vals))
	for i, v := range vals {
		out[i] = Arg{Name: strconv.Itoa(i + 1), Value: v}
	}
	return out
}

// Get returns the value of the argument named name. A later duplicate wins.
func (a Args) Get(name string) (string, bool) {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i].Name == name {
			return a[i].Value, true
		}
	}
	return "", false
}

// Sorted returns a copy with positional arguments first in numeric order,
// then named arguments by name. Duplicates keep the last value.
func (a Args) Sorted() Args {
	last := make(map[string]string, len(a))
	for _, arg := range a {
		last[arg.Name] = arg.Value
	}
	out := make(Args, 0, len(last))
	for name, v := range last {
		out = append(out, Arg{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return argLess(out[i].Name, out[j].Name) })
	return out
}

func argLess(a, b string) bool {
	na, aerr := strconv.Atoi(a)
	nb, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return na < nb
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}

// Context is one frame of a call chain: the page or template being expanded
// and the arguments it was called with. Volatility and TTL set on a frame
// propagate to its ancestors.
type Context struct {
	ID     string
	Title  string
	Args   Args
	Parent *Context

	depth    int
	maxDepth int
	volatile bool
	ttl      time.Duration
	hasTTL   bool
}

// NewContext returns a root frame for title.
func NewContext(title string, args Args) *Context {
	return &Context{
		ID:       ulid.Make().String(),
		Title:    title,
		Args:     args,
		maxDepth: DefaultMaxDepth,
	}
}

// WithMaxDepth sets the depth cap inherited by c's descendants.
func (c *Context) WithMaxDepth(n int) *Context {
	if n > 0 {
		c.maxDepth = n
	}
	return c
}

// NewChild returns a frame below c. An empty title keeps c's title.
// depthOffset is added to the depth; most callers pass 1.
func (c *Context) NewChild(args Args, title string, depthOffset int) (*Context, error) {
	depth := c.depth + depthOffset
	if depth > c.maxDepth {
		return nil, &RecursionLimitError{Limit: c.maxDepth}
	}
	if title == "" {
		title = c.Title
	}
	return &Context{
		ID:       ulid.Make().String(),
		Title:    title,
		Args:     args,
		Parent:   c,
		depth:    depth,
		maxDepth: c.maxDepth,
	}, nil
}

// Depth is the number of frames above c.
func (c *Context) Depth() int { return c.depth }

// MaxDepth is the depth cap of c's tree.
func (c *Context) MaxDepth() int { return c.maxDepth }

// Arg returns the argument named name.
func (c *Context) Arg(name string) (string, bool) {
	return c.Args.Get(name)
}

// SetVolatile marks c and every ancestor as volatile.
func (c *Context) SetVolatile() {
	for f := c; f != nil; f = f.Parent {
		f.volatile = true
	}
}

// Volatile reports whether output derived from c must not be memoized.
func (c *Context) Volatile() bool { return c.volatile }

// SetTTL lowers the TTL of c and its ancestors to d. A TTL never grows.
func (c *Context) SetTTL(d time.Duration) {
	if d < 0 {
		d = 0
	}
	for f := c; f != nil; f = f.Parent {
		if !f.hasTTL || d < f.ttl {
			f.ttl = d
			f.hasTTL = true
		}
	}
}

// TTL returns the minimum TTL observed on c, if any was set.
func (c *Context) TTL() (time.Duration, bool) { return c.ttl, c.hasTTL }

// HasAncestor reports whether title is c's own title or that of a frame
// above it.
func (c *Context) HasAncestor(title string) bool {
	for f := c; f != nil; f = f.Parent {
		if f.Title == title {
			return true
		}
	}
	return false
}

func (c *Context) String() string {
	return fmt.Sprintf("frame %s (%s, depth %d)", c.ID, c.Title, c.depth)
}
