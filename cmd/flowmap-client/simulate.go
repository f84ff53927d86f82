package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowmap-stream-go/internal/logging"
	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/simulator"
)

func simulateCmd(opts *rootOptions) *cobra.Command {
	var (
		listen string
		width  int
		height int
		rate   float64
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a synthetic image server for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			profile, err := protocol.ProfileByName(cfg.Profile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			srv, err := simulator.Listen(listen, simulator.Config{
				Profile:    profile,
				Width:      width,
				Height:     height,
				Rate:       rate,
				MaxPayload: cfg.MaxPayloadBytes,
				Logger:     logger.Named("simulator"),
			})
			if err != nil {
				return err
			}
			logger.Info("simulator listening",
				zap.Stringer("addr", srv.Addr()),
				zap.String("profile", profile.Name),
			)

			go func() {
				for rec := range srv.Received() {
					fields := []zap.Field{zap.Stringer("command", rec.Command), zap.Int("payload", len(rec.Payload))}
					switch {
					case rec.Err != nil:
						fields = append(fields, zap.Error(rec.Err))
					case rec.Points != nil:
						fields = append(fields, zap.Any("points", rec.Points))
					case rec.Vectors != nil:
						fields = append(fields, zap.Any("vectors", rec.Vectors))
					case rec.Image != nil:
						fields = append(fields, zap.Int("width", rec.Image.Width), zap.Int("height", rec.Image.Height))
					}
					logger.Info("received", fields...)
				}
			}()
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8888", "listen address")
	cmd.Flags().IntVar(&width, "width", 256, "image width")
	cmd.Flags().IntVar(&height, "height", 256, "image height")
	cmd.Flags().Float64Var(&rate, "rate", 10, "flow maps per second while streaming")
	return cmd
}
