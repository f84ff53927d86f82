package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"flowmap-stream-go/internal/console"
)

func consoleCmd(opts *rootOptions) *cobra.Command {
	var history string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive command console",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{sinks: true, server: true})
			if err != nil {
				return err
			}
			defer a.Close()
			a.serve(ctx)

			con := console.New(a.client, os.Stdout, cfg.Server.Address, cfg.Server.Port)
			unsubscribe := a.client.Subscribe(con.Notify)
			defer unsubscribe()

			if cfg.AutoConnect {
				// Failures are reported through Notify.
				_ = a.connect(ctx)
			}
			return con.Run(ctx, history)
		},
	}
	cmd.Flags().StringVar(&history, "history", "", "readline history file")
	return cmd
}
