package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowmap-stream-go/internal/client"
	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/store"
)

// replyClass is the image class a command is answered with, if any.
func replyClass(cmd protocol.Command) (store.ImageClass, bool) {
	switch cmd {
	case protocol.CommandRequestFrame:
		return store.Frame, true
	case protocol.CommandRequestTransformedFrame:
		return store.TransformedFrame, true
	case protocol.CommandStreamStart:
		return store.FlowMap, true
	}
	return 0, false
}

func sendCmd(opts *rootOptions) *cobra.Command {
	var (
		file string
		wait time.Duration
		out  string
	)
	cmd := &cobra.Command{
		Use:   "send <command> [payload]",
		Short: "Send one command and optionally wait for the image it produces",
		Long: `Commands: request-frame, request-transformed-frame, stream-start,
stream-stop, edited-frame, annotation-points, water-jet-vectors.

Points are given as "x1,y1;x2,y2", vectors as "sx,sy,ex,ey;...".
Edited frames are read from --file.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			command, err := protocol.ParseCommand(args[0])
			if err != nil {
				return err
			}
			var payload []byte
			switch {
			case file != "":
				if payload, err = os.ReadFile(file); err != nil {
					return err
				}
			case len(args) == 2:
				payload = []byte(args[1])
			}
			if command.HasPayload() && len(payload) == 0 {
				return fmt.Errorf("%s needs a payload", command)
			}

			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			replies := make(chan client.Event, 1)
			if class, ok := replyClass(command); ok && wait > 0 {
				unsubscribe := a.client.Subscribe(func(ev client.Event) {
					if ev.Kind == client.EventImageReceived && ev.Class == class {
						select {
						case replies <- ev:
						default:
						}
					}
				})
				defer unsubscribe()
			}

			if err := a.connect(ctx); err != nil {
				return err
			}
			defer a.client.Disconnect()

			if err := a.client.Send(command, payload); err != nil {
				return err
			}
			a.logger.Info("sent", zap.Stringer("command", command), zap.Int("payload", len(payload)))

			if _, ok := replyClass(command); !ok || wait <= 0 {
				return nil
			}
			select {
			case ev := <-replies:
				fmt.Printf("%s #%d %dx%d %s (%d bytes)\n", ev.Class, ev.Sequence,
					ev.Image.Width, ev.Image.Height, ev.Image.Format, len(ev.Image.Encoded))
				if out != "" {
					return os.WriteFile(out, ev.Image.Encoded, 0o644)
				}
				return nil
			case <-time.After(wait):
				return errors.New("no reply before --wait elapsed")
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from a file")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for the reply image")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the reply image to this file")
	return cmd
}
