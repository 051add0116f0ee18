package render

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/seantiz/scribe/internal/backend"
)

// ErrorMarker renders err as inline HTML. id numbers the markers of one
// page. A script backtrace, when there is one, goes in data-trace.
func ErrorMarker(id int, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<strong class="error"><span class="scribunto-error" id="mw-scribunto-error-%d"`, id)
	var se *backend.ScriptError
	if errors.As(err, &se) && se.Trace != "" {
		fmt.Fprintf(&b, ` data-trace="%s"`, html.EscapeString(se.Trace))
	}
	fmt.Fprintf(&b, `>Script error: %s</span></strong>`, html.EscapeString(err.Error()))
	return b.String()
}

func (h *Host) marker(err error) string {
	h.markers++
	return ErrorMarker(h.markers, err)
}
