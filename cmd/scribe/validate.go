package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/render"
)

var errInvalid = errors.New("validation failed")

func newValidateCmd(a *app) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Compile module sources and report syntax errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, files []string) error {
			if title != "" && len(files) > 1 {
				return errors.New("--title needs a single file")
			}
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			failed := false
			for _, path := range files {
				src, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				t := title
				if t == "" {
					t = moduleTitleFor(path)
				}
				msg, ok, err := a.validate(db, t, string(src))
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(out, "%s: %s\n", path, color.GreenString("ok"))
					continue
				}
				failed = true
				fmt.Fprintf(out, "%s: %s\n", path, color.RedString(msg))
			}
			if failed {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "module title (default: Module: and the file name)")
	return cmd
}

// moduleTitleFor names a module after its file: greet.lua is Module:Greet.
func moduleTitleFor(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return render.ModuleTitle(name)
}
