package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowmap-stream-go/internal/client"
	"flowmap-stream-go/internal/protocol"
)

func runCmd(opts *rootOptions) *cobra.Command {
	var (
		reconnect time.Duration
		stream    bool
		blendTick time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect and keep the image store, sinks and status server running",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			classes, err := cfg.ImageClasses()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{sinks: true, server: true})
			if err != nil {
				return err
			}
			defer a.Close()
			a.serve(ctx)

			lost := make(chan struct{}, 1)
			unsubscribe := a.client.Subscribe(func(ev client.Event) {
				if ev.Kind != client.EventConnectionChanged || ev.Connected {
					return
				}
				if ev.Reason == "requested" || ev.Reason == "reconnect" {
					return
				}
				select {
				case lost <- struct{}{}:
				default:
				}
			})
			defer unsubscribe()

			start := func() error {
				var err error
				if reconnect > 0 {
					err = a.connectWithRetry(ctx, reconnect)
				} else {
					err = a.connect(ctx)
				}
				if err != nil {
					return err
				}
				if stream {
					if err := a.client.RequestStreamStart(); err != nil && !errors.Is(err, protocol.ErrUnsupportedCommand) {
						a.logger.Warn("stream start failed", zap.Error(err))
					}
				}
				return nil
			}

			if cfg.AutoConnect {
				if err := start(); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
			}

			ticker := time.NewTicker(blendTick)
			defer ticker.Stop()
			last := time.Now()
			for {
				select {
				case <-ctx.Done():
					a.logger.Info("shutting down")
					return nil
				case now := <-ticker.C:
					dt := now.Sub(last)
					last = now
					for _, class := range classes {
						if _, err := a.client.AdvanceBlend(class, dt); err != nil {
							a.logger.Debug("blend", zap.Error(err))
						}
					}
				case <-lost:
					if reconnect <= 0 {
						a.logger.Info("connection lost, not reconnecting")
						continue
					}
					if err := start(); err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&reconnect, "reconnect", 2*time.Second, "retry interval after a failed or lost connection, 0 disables")
	cmd.Flags().BoolVar(&stream, "stream", true, "request stream start after connecting")
	cmd.Flags().DurationVar(&blendTick, "blend-tick", 50*time.Millisecond, "interval for advancing blend progress")
	return cmd
}
