package main

import (
	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/api"
	"github.com/seantiz/scribe/internal/engine"
	"github.com/seantiz/scribe/internal/render"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.ListenAddr = listen
			}
			a.logger.Info("scribe: starting",
				"listen_addr", a.cfg.ListenAddr,
				"db_path", a.cfg.DBPath,
				"backend", a.cfg.Backend,
			)

			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			reg := engine.DefaultBackends()
			runner := render.NewRunner(db, a.cfg.Render(a.logger, reg), a.logger)
			return api.NewServer(a.cfg.ListenAddr, db, reg, runner, a.logger).Run()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides configuration)")
	return cmd
}
