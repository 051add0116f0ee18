// Command scribe-luahost is the child runtime of the subprocess backend. It
// serves the framed protocol on stdin and stdout; diagnostics go to the file
// named by SCRIBE_LUAHOST_ERROR_FILE.
//
// It is not meant to be run by hand. scribe starts it when the subprocess
// backend is selected.
package main

import (
	"os"

	"github.com/seantiz/scribe/internal/luahost"
)

func main() {
	os.Exit(luahost.Main())
}
