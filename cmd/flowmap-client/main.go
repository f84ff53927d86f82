package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "flowmap-client",
		Short: "Streaming client for flow-map and frame image servers",
		Long: `flowmap-client connects to an image server over TCP, keeps the newest
flow-map, frame and transformed-frame images with their blend state, and
sends frame requests, edited frames, annotation points and water-jet vectors.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.bind(rootCmd)

	rootCmd.AddCommand(
		runCmd(opts),
		consoleCmd(opts),
		sendCmd(opts),
		simulateCmd(opts),
		watchCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
