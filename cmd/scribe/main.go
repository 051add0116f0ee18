// Command scribe serves and runs script modules stored in a page database.
//
//	scribe serve                     run the HTTP API
//	scribe invoke MODULE FUNC [ARGS] call a module function
//	scribe console                   interactive debug console
//	scribe validate FILE...          compile module sources
//	scribe page put|get TITLE        edit the page store
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}
