package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flowmap-stream-go/internal/logging"
	"flowmap-stream-go/internal/sink"
)

func watchCmd(opts *rootOptions) *cobra.Command {
	var (
		topics []string
		saveTo string
	)
	cmd := &cobra.Command{
		Use:   "watch <endpoint>",
		Short: "Subscribe to images republished by another client's ZMQ sink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger, err := logging.New(opts.debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if saveTo != "" {
				if err := os.MkdirAll(saveTo, 0o755); err != nil {
					return err
				}
			}
			announcements, err := sink.Subscribe(ctx, args[0], topics, logger.Named("watch"))
			if err != nil {
				return err
			}
			for a := range announcements {
				at := time.Unix(0, int64(a.Time*1e9)).Format("15:04:05.000")
				if a.Type == "status" {
					fmt.Printf("%s status connected=%t session=%s\n", at, a.Connected, a.Session)
					continue
				}
				fmt.Printf("%s %s #%d %dx%d %s (%d bytes)\n", at, a.Class, a.Sequence, a.Width, a.Height, a.Format, len(a.Data))
				if saveTo != "" && len(a.Data) > 0 {
					name := filepath.Join(saveTo, fmt.Sprintf("%s_%06d.%s", a.Class, a.Sequence, a.Format))
					if err := os.WriteFile(name, a.Data, 0o644); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topics to subscribe to (flowmap, frame, transformed_frame, status)")
	cmd.Flags().StringVar(&saveTo, "save", "", "write received images into this directory")
	return cmd
}
