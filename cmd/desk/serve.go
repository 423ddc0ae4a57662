package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zulandar/admitdesk/internal/server"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and maintenance scheduler",
		Long:  "Serves /ask, /actions and /sessions over HTTP and runs the session sweep, action purge and digest jobs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, v)
		},
	}
	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides server.port)")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	a, err := openApp(v)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.scheduler()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.OutOrStdout())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return server.Start(gctx, server.Opts{
			Orchestrator: a.orch,
			Actions:      a.actions,
			Sessions:     a.sessions,
			Port:         a.cfg.Server.Port,
			Logger:       a.logger,
			Out:          cmd.OutOrStdout(),
		})
	})
	return g.Wait()
}
