package library

import (
	"fmt"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/ustring"
	"github.com/seantiz/scribe/internal/value"
)

var ustringFuncs = []string{
	"len", "sub", "upper", "lower", "char", "codepoint", "byteoffset", "isutf8",
	"toNFC", "toNFD", "toNFKC", "toNFKD",
	"find", "match", "gmatch", "gsub",
}

// Ustring is mw.ustring, the Unicode-aware string functions.
type Ustring struct {
	env Env
}

// Register implements Library.
func (u *Ustring) Register(env Env) (map[string]backend.HostFunc, error) {
	u.env = env
	funcs := map[string]backend.HostFunc{
		"len":        u.len,
		"sub":        u.sub,
		"upper":      u.caseMap("upper", ustring.Upper),
		"lower":      u.caseMap("lower", ustring.Lower),
		"char":       u.char,
		"codepoint":  u.codepoint,
		"byteoffset": u.byteoffset,
		"isutf8":     u.isutf8,
		"find":       u.find,
		"match":      u.match,
		"gmatch":     u.gmatch,
		"gsub":       u.gsub,
	}
	for _, f := range []ustring.Form{ustring.NFC, ustring.NFD, ustring.NFKC, ustring.NFKD} {
		funcs["to"+string(f)] = u.normalize(f)
	}
	return funcs, nil
}

// subject returns argument i as a string within the configured ceiling.
func (u *Ustring) subject(a value.Args, fn string, i int) (string, error) {
	s, err := a.String(fn, i)
	if err != nil {
		return "", err
	}
	return s, u.env.Limits().CheckString(fn, i, s)
}

func (u *Ustring) pattern(a value.Args, fn string, i int) (string, error) {
	p, err := a.String(fn, i)
	if err != nil {
		return "", err
	}
	return p, u.env.Limits().CheckPattern(fn, i, p)
}

func (u *Ustring) len(args []any) ([]any, error) {
	s, err := u.subject(args, "len", 1)
	if err != nil {
		return nil, err
	}
	n, ok := ustring.Len(s)
	if !ok {
		return []any{nil}, nil
	}
	return []any{float64(n)}, nil
}

func (u *Ustring) sub(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := u.subject(a, "sub", 1)
	if err != nil {
		return nil, err
	}
	i, err := a.OptInt("sub", 2, 1)
	if err != nil {
		return nil, err
	}
	j, err := a.OptInt("sub", 3, -1)
	if err != nil {
		return nil, err
	}
	return []any{ustring.Sub(s, i, j)}, nil
}

func (u *Ustring) caseMap(fn string, f func(string) string) backend.HostFunc {
	return func(args []any) ([]any, error) {
		s, err := u.subject(args, fn, 1)
		if err != nil {
			return nil, err
		}
		out := f(s)
		if err := u.env.Limits().CheckResult(fn, len(out)); err != nil {
			return nil, err
		}
		return []any{out}, nil
	}
}

func (u *Ustring) char(args []any) ([]any, error) {
	a := value.Args(args)
	codes := make([]int, len(a))
	for i := range a {
		c, err := a.Int("char", i+1)
		if err != nil {
			return nil, err
		}
		codes[i] = c
	}
	// Each scalar takes at most four bytes.
	if err := u.env.Limits().CheckResult("char", len(codes)); err != nil {
		return nil, err
	}
	s, err := ustring.Char(codes)
	if err != nil {
		return nil, err
	}
	if err := u.env.Limits().CheckResult("char", len(s)); err != nil {
		return nil, err
	}
	return []any{s}, nil
}

func (u *Ustring) codepoint(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := u.subject(a, "codepoint", 1)
	if err != nil {
		return nil, err
	}
	i, err := a.OptInt("codepoint", 2, 1)
	if err != nil {
		return nil, err
	}
	j, err := a.OptInt("codepoint", 3, i)
	if err != nil {
		return nil, err
	}
	var out []any
	for _, c := range ustring.Codepoint(s, i, j) {
		out = append(out, float64(c))
	}
	return out, nil
}

func (u *Ustring) byteoffset(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := u.subject(a, "byteoffset", 1)
	if err != nil {
		return nil, err
	}
	l, err := a.OptInt("byteoffset", 2, 1)
	if err != nil {
		return nil, err
	}
	i, err := a.OptInt("byteoffset", 3, 1)
	if err != nil {
		return nil, err
	}
	if off := ustring.ByteOffset(s, l, i); off > 0 {
		return []any{float64(off)}, nil
	}
	return []any{nil}, nil
}

func (u *Ustring) isutf8(args []any) ([]any, error) {
	s, err := u.subject(args, "isutf8", 1)
	if err != nil {
		return nil, err
	}
	return []any{ustring.IsUTF8(s)}, nil
}

func (u *Ustring) normalize(form ustring.Form) backend.HostFunc {
	fn := "to" + string(form)
	return func(args []any) ([]any, error) {
		s, err := u.subject(args, fn, 1)
		if err != nil {
			return nil, err
		}
		out, ok := ustring.Normalize(s, form)
		if !ok {
			return []any{nil}, nil
		}
		if err := u.env.Limits().CheckResult(fn, len(out)); err != nil {
			return nil, err
		}
		return []any{out}, nil
	}
}

func (u *Ustring) find(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := u.subject(a, "find", 1)
	if err != nil {
		return nil, err
	}
	p, err := u.pattern(a, "find", 2)
	if err != nil {
		return nil, err
	}
	init, err := a.OptInt("find", 3, 1)
	if err != nil {
		return nil, err
	}
	plain := a.Get(4) != nil && a.Get(4) != false
	out, err := u.env.Patterns().Find(s, p, init, plain)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return []any{nil}, nil
	}
	return out, nil
}

func (u *Ustring) match(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := u.subject(a, "match", 1)
	if err != nil {
		return nil, err
	}
	p, err := u.pattern(a, "match", 2)
	if err != nil {
		return nil, err
	}
	init, err := a.OptInt("match", 3, 1)
	if err != nil {
		return nil, err
	}
	out, err := u.env.Patterns().Match(s, p, init)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return []any{nil}, nil
	}
	return out, nil
}

// gmatch returns a host-backed iterator function.
func (u *Ustring) gmatch(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := u.subject(a, "gmatch", 1)
	if err != nil {
		return nil, err
	}
	p, err := u.pattern(a, "gmatch", 2)
	if err != nil {
		return nil, err
	}
	it, err := u.env.Patterns().Gmatch(s, p)
	if err != nil {
		return nil, err
	}
	next := backend.HostFunc(func([]any) ([]any, error) {
		vals, err := it.Next()
		if err != nil {
			return nil, err
		}
		if vals == nil {
			return []any{nil}, nil
		}
		return vals, nil
	})
	return []any{next}, nil
}

func (u *Ustring) gsub(args []any) ([]any, error) {
	a := value.Args(args)
	s, err := u.subject(a, "gsub", 1)
	if err != nil {
		return nil, err
	}
	p, err := u.pattern(a, "gsub", 2)
	if err != nil {
		return nil, err
	}
	maxRepl, err := a.OptInt("gsub", 4, -1)
	if err != nil {
		return nil, err
	}

	var r ustring.Replacer
	switch repl := a.Get(3).(type) {
	case string:
		r = ustring.StringReplacer(repl)
	case float64:
		r = ustring.StringReplacer(value.FormatNumber(repl))
	case map[any]any:
		r = ustring.TableReplacer(repl)
	case []any:
		t, _ := a.Table("gsub", 3)
		r = ustring.TableReplacer(t)
	default:
		interp := u.env.Interpreter()
		if !interp.IsScriptFunction(repl) {
			return nil, &value.ArgumentError{Func: "gsub", Arg: 3,
				Msg: fmt.Sprintf("string/function/table expected, got %s", value.TypeName(repl))}
		}
		fn := repl.(backend.Function)
		r = ustring.FuncReplacer(func(caps []any) (any, error) {
			rets, err := interp.CallFunction(fn, caps...)
			if err != nil || len(rets) == 0 {
				return nil, err
			}
			return rets[0], nil
		})
	}

	out, n, err := u.env.Patterns().Gsub(s, p, r, maxRepl, u.env.Limits().MaxStringLength)
	if err != nil {
		return nil, err
	}
	return []any{out, float64(n)}, nil
}
