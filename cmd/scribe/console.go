package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/engine"
	"github.com/seantiz/scribe/internal/store"
)

const (
	historyFile   = ".scribe_history"
	consolePrompt = "> "
)

var (
	errText      = color.New(color.FgRed).SprintFunc()
	returnedText = color.New(color.FgCyan).SprintFunc()
)

// console replays the statements of a session on a fresh engine for
// every new statement, the way the debug console of an edit page does.
type console struct {
	a      *app
	db     store.Store
	title  string
	module string
	prior  []string
}

func newConsoleCmd(a *app) *cobra.Command {
	var (
		title      string
		modulePath string
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive debug console",
		Long: "Evaluate statements against a module. A statement starting with = " +
			"prints its value; print() output is shown. :reset clears the session " +
			"and :quit leaves.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			c := &console{a: a, db: db, title: title}
			if modulePath != "" {
				src, err := os.ReadFile(modulePath)
				if err != nil {
					return fmt.Errorf("read module: %w", err)
				}
				c.module = string(src)
				if c.title == "" {
					c.title = moduleTitleFor(modulePath)
				}
			}
			return c.repl(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "module title the console runs as")
	cmd.Flags().StringVarP(&modulePath, "module", "m", "", "module source bound to p")
	return cmd
}

func (c *console) repl(ctx context.Context, out io.Writer) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	histPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
	}
	defer func() {
		if histPath == "" {
			return
		}
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		line, err := ln.Prompt(consolePrompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}

		stmt := strings.TrimSpace(line)
		switch stmt {
		case "":
			continue
		case ":quit", ":q":
			return nil
		case ":reset":
			c.prior = nil
			continue
		}
		ln.AppendHistory(stmt)

		printed, returned, err := c.eval(ctx, stmt)
		if err != nil {
			fmt.Fprintln(out, errText(err.Error()))
			continue
		}
		if printed != "" {
			fmt.Fprint(out, printed)
		}
		if returned != "" {
			fmt.Fprintln(out, returnedText(returned))
		}
	}
}

// eval runs stmt after the session's earlier statements. Only statements
// that succeed join the session.
func (c *console) eval(ctx context.Context, stmt string) (printed, returned string, err error) {
	host := c.a.newHost(c.db)
	defer host.Close()

	ctx, cancel := c.a.withTimeout(ctx)
	defer cancel()

	res, err := host.Console(ctx, engine.ConsoleRequest{
		PriorStatements:  c.prior,
		CurrentStatement: stmt,
		ModuleSource:     c.module,
		Title:            c.title,
	})
	if err != nil {
		return "", "", err
	}
	c.prior = append(c.prior, stmt)
	return res.Printed, res.Returned, nil
}

func isSyntaxError(err error) bool {
	var syn *backend.SyntaxError
	return errors.As(err, &syn)
}
