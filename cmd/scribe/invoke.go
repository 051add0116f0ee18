package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/engine"
	"github.com/seantiz/scribe/internal/render"
)

func newInvokeCmd(a *app) *cobra.Command {
	var (
		title       string
		backendName string
		usage       bool
	)
	cmd := &cobra.Command{
		Use:   "invoke MODULE FUNC [ARGS...]",
		Short: "Call a module function as {{#invoke:}} would",
		Long: "Call FUNC of MODULE. ARGS of the form name=value are named " +
			"arguments; the others are positional. mw.log output goes to stderr.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if backendName != "" {
				a.cfg.Backend = backendName
			}
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			logLine := func(line string) {
				fmt.Fprintln(os.Stderr, color.HiBlackString(line))
			}
			host := a.newHost(db, engine.WithLogFunc(logLine))
			defer host.Close()

			if title == "" {
				title = render.ModuleTitle(args[0])
			}
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()

			out, err := host.Invoke(ctx, args[0], args[1], title, parseArgs(args[2:]))
			if usage {
				printUsage(host)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title of the page being rendered (default: the module)")
	cmd.Flags().StringVar(&backendName, "backend", "", "interpreter backend: sandbox, subprocess or auto")
	cmd.Flags().BoolVar(&usage, "usage", false, "print the resource report to stderr")
	return cmd
}

func printUsage(host *render.Host) {
	u, backendName := host.Usage()
	fmt.Fprintf(os.Stderr, "backend:         %s\n", backendName)
	fmt.Fprintf(os.Stderr, "cpu time:        %.3fs / %.3fs\n", u.CPUSeconds, u.CPULimitSeconds)
	fmt.Fprintf(os.Stderr, "peak memory:     %d / %d bytes\n", u.PeakMemoryBytes, u.MemoryLimitBytes)
	fmt.Fprintf(os.Stderr, "expensive calls: %d / %d\n", u.ExpensiveCalls, u.ExpensiveLimit)
	if u.TTLSeconds != nil {
		fmt.Fprintf(os.Stderr, "cache ttl:       %.0fs\n", *u.TTLSeconds)
	}
}
