package luart

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/seantiz/scribe/internal/value"
)

func TestStrRep(t *testing.T) {
	rt := New(Options{Limits: value.Limits{MaxStringLength: 10}})
	defer rt.Close()

	tests := []struct {
		src     string
		want    string
		wantErr string
	}{
		{src: `return string.rep("ab", 3)`, want: "ababab"},
		{src: `return string.rep("ab", 0)`, want: ""},
		{src: `return string.rep("ab", -2)`, want: ""},
		{src: `return string.rep("", 1e12)`, want: ""},
		{src: `return string.rep("ab", 5)`, want: "ababababab"},
		{src: `return string.rep("ab", 6)`, wantErr: "result too long for 'rep' (limit 10 bytes)"},
		{src: `return string.rep("x", 1e9)`, wantErr: "result too long"},
	}
	for _, tt := range tests {
		err := rt.L.DoString(tt.src)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("%s: err = %v, want %q", tt.src, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.src, err)
			continue
		}
		if got := rt.L.Get(-1); got != lua.LString(tt.want) {
			t.Errorf("%s = %q, want %q", tt.src, got, tt.want)
		}
		rt.L.Pop(1)
	}
}

func TestStrRepDefaultLimit(t *testing.T) {
	rt := New(Options{})
	defer rt.Close()
	if err := rt.L.DoString(`return string.rep("x", 1e9)`); err == nil {
		t.Error("string.rep past the default ceiling succeeded")
	}
}
