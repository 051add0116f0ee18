// Package library holds the host-backed libraries that scripts reach under
// the mw table, and the registry the engine loads them from.
//
// A library is described by a Def. Eager libraries are registered with the
// interpreter when an engine starts; deferred ones wait until a script first
// requires them. Every Def declares the functions it provides, and the
// registry rejects a library whose registered functions drift from that
// declaration.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/governor"
	"github.com/seantiz/scribe/internal/ustring"
	"github.com/seantiz/scribe/internal/value"
)

// Env is the part of an engine a library instance talks to.
type Env interface {
	// Context is the context of the call in progress.
	Context() context.Context
	Interpreter() backend.Interpreter
	// Host is the engine's host. Libraries detect optional capabilities
	// such as PageResolver by type assertion.
	Host() any
	Budget() *governor.ExpensiveBudget
	Limits() value.Limits
	Patterns() *ustring.Cache
	// Preprocess expands text in the current frame.
	Preprocess(text string) (string, error)
	// CurrentTitle is the title of the current frame.
	CurrentTitle() string
	Logger() *slog.Logger
}

// Library is one instance of a library, owned by a single engine.
type Library interface {
	Register(env Env) (map[string]backend.HostFunc, error)
}

// Def describes a library.
type Def struct {
	// Name is the dotted global path the functions are installed at.
	Name string
	// New creates an instance for one engine.
	New func() Library
	// DeferLoad postpones registration until a script requires Name.
	DeferLoad bool
	// Funcs lists every function Register returns.
	Funcs []string
}

// Check compares the functions a library registered with the declared list.
func (d Def) Check(funcs map[string]backend.HostFunc) error {
	var result *multierror.Error
	declared := make(map[string]bool, len(d.Funcs))
	for _, name := range d.Funcs {
		declared[name] = true
		fn, ok := funcs[name]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("%s: declared function %q not registered", d.Name, name))
		} else if fn == nil {
			result = multierror.Append(result, fmt.Errorf("%s: function %q is nil", d.Name, name))
		}
	}
	for _, name := range sortedNames(funcs) {
		if !declared[name] {
			result = multierror.Append(result, fmt.Errorf("%s: function %q is not declared", d.Name, name))
		}
	}
	return result.ErrorOrNil()
}

func sortedNames(funcs map[string]backend.HostFunc) []string {
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrUnknownLibrary is returned by Lookup for a name with no Def.
var ErrUnknownLibrary = errors.New("library: unknown library")

// Registry is an immutable, validated set of library definitions.
type Registry struct {
	defs  map[string]Def
	order []string
}

// NewRegistry validates defs and builds a registry from them. All problems
// are reported together.
func NewRegistry(defs ...Def) (*Registry, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}
	r := &Registry{defs: make(map[string]Def, len(defs))}
	for _, d := range defs {
		r.defs[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Validate checks a table of definitions for empty and duplicate names, nil
// constructors and malformed function lists.
func Validate(defs []Def) error {
	var result *multierror.Error
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		switch {
		case strings.TrimSpace(d.Name) == "":
			result = multierror.Append(result, fmt.Errorf("library #%d has no name", i+1))
		case seen[d.Name]:
			result = multierror.Append(result, fmt.Errorf("library %q is defined twice", d.Name))
		}
		seen[d.Name] = true
		if d.New == nil {
			result = multierror.Append(result, fmt.Errorf("library %q has no constructor", d.Name))
		}
		if len(d.Funcs) == 0 {
			result = multierror.Append(result, fmt.Errorf("library %q declares no functions", d.Name))
		}
		fs := make(map[string]bool, len(d.Funcs))
		for _, f := range d.Funcs {
			if f == "" {
				result = multierror.Append(result, fmt.Errorf("library %q declares an empty function name", d.Name))
			} else if fs[f] {
				result = multierror.Append(result, fmt.Errorf("library %q declares %q twice", d.Name, f))
			}
			fs[f] = true
		}
	}
	return result.ErrorOrNil()
}

// Eager returns the definitions registered at engine start, in definition
// order.
func (r *Registry) Eager() []Def {
	var out []Def
	for _, name := range r.order {
		if d := r.defs[name]; !d.DeferLoad {
			out = append(out, d)
		}
	}
	return out
}

// Lookup returns the definition named name.
func (r *Registry) Lookup(name string) (Def, error) {
	d, ok := r.defs[name]
	if !ok {
		return Def{}, fmt.Errorf("%w: %q", ErrUnknownLibrary, name)
	}
	return d, nil
}

// Names returns every library name in definition order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Builtins returns the definitions of the built-in libraries.
func Builtins() []Def {
	return []Def{
		{Name: "mw.ustring", New: func() Library { return &Ustring{} }, Funcs: ustringFuncs},
		{Name: "mw.text", New: func() Library { return &Text{} }, Funcs: textFuncs},
		{Name: "mw.language", New: func() Library { return NewLanguage() }, Funcs: languageFuncs},
		{Name: "mw.title", New: func() Library { return NewTitle() }, Funcs: titleFuncs},
		{Name: "mw.message", New: func() Library { return &Message{} }, Funcs: messageFuncs},
		{Name: "mw.site", New: func() Library { return NewSite() }, Funcs: siteFuncs},
		{Name: "mw.hash", New: func() Library { return &Hash{} }, DeferLoad: true, Funcs: hashFuncs},
	}
}

// Default returns a registry of the built-in libraries. It panics if the
// built-in table is invalid, which is a programming error.
func Default() *Registry {
	r, err := NewRegistry(Builtins()...)
	if err != nil {
		panic(fmt.Sprintf("library: invalid built-in table: %v", err))
	}
	return r
}
