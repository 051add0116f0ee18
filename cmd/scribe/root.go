package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/config"
	"github.com/seantiz/scribe/internal/engine"
	"github.com/seantiz/scribe/internal/render"
	"github.com/seantiz/scribe/internal/store"
)

// app is the state shared by the subcommands.
type app struct {
	configPath string
	noColor    bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "scribe",
		Short:         "Run script modules stored in a page database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "TOML configuration file")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newServeCmd(a),
		newInvokeCmd(a),
		newConsoleCmd(a),
		newValidateCmd(a),
		newPageCmd(a),
	)
	return root
}

// load reads the configuration file, if any, and the environment.
func (a *app) load() error {
	if a.noColor {
		color.NoColor = true
	}
	if a.configPath == "" {
		a.cfg = config.Load()
	} else {
		cfg, err := config.LoadFile(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	a.logger = config.NewLogger(os.Stderr, a.cfg.LogLevel)
	return nil
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	db, err := store.NewSQLiteStore(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func (a *app) newHost(db store.Store, opts ...engine.Option) *render.Host {
	return render.NewHost(db, a.cfg.Render(a.logger, nil), opts...)
}

// validate compiles source as the module title. A nil error with ok false
// means the source has a syntax error, described by msg.
func (a *app) validate(db store.Store, title, source string) (msg string, ok bool, err error) {
	host := a.newHost(db)
	defer host.Close()

	e, err := host.Engine()
	if err != nil {
		return "", false, err
	}
	if err := e.Validate(source, title); err != nil {
		if isSyntaxError(err) {
			return err.Error(), false, nil
		}
		return "", false, err
	}
	return "", true, nil
}

// withTimeout bounds host work by the configured invocation timeout.
func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := a.cfg.InvokeTimeout
	if d <= 0 {
		d = render.DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// parseArgs turns name=value words into named arguments and the rest into
// positional ones, numbered from 1.
func parseArgs(words []string) engine.Args {
	var args engine.Args
	pos := 0
	for _, w := range words {
		if name, value, ok := strings.Cut(w, "="); ok && strings.TrimSpace(name) != "" {
			args = append(args, engine.Arg{Name: strings.TrimSpace(name), Value: value})
			continue
		}
		pos++
		args = append(args, engine.Arg{Name: fmt.Sprint(pos), Value: w})
	}
	return args
}
