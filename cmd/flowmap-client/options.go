package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowmap-stream-go/internal/config"
)

type rootOptions struct {
	configPath string
	host       string
	port       int
	profile    string
	debug      bool
	httpListen string
	capture    bool
	captureDir string
	zmq        string
	redis      string
}

func (o *rootOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	f.StringVarP(&o.host, "host", "H", "", "image server address (default from config)")
	f.IntVarP(&o.port, "port", "p", 0, "image server port (default from config)")
	f.StringVar(&o.profile, "profile", "", "tag profile: streaming or annotation")
	f.BoolVar(&o.debug, "debug", false, "development logging and per-message debug logs")
	f.StringVar(&o.httpListen, "http", "", "status server listen address, e.g. :9090")
	f.BoolVar(&o.capture, "capture", false, "record wire messages to a capture file")
	f.StringVar(&o.captureDir, "capture-dir", "", "directory for capture files")
	f.StringVar(&o.zmq, "zmq", "", "ZMQ PUB endpoint to republish images on, e.g. tcp://*:5556")
	f.StringVar(&o.redis, "redis", "", "Redis address for the latest-image cache")
}

// load reads the config file and applies the flags that were set.
func (o *rootOptions) load(cmd *cobra.Command) (config.AppConfig, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Address = o.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("profile") {
		cfg.Profile = o.profile
	}
	if flags.Changed("debug") {
		cfg.Debug = o.debug
	}
	if flags.Changed("http") {
		cfg.HTTP.Listen = o.httpListen
	}
	if flags.Changed("capture") {
		cfg.Capture.Enabled = o.capture
	}
	if flags.Changed("capture-dir") {
		cfg.Capture.Dir = o.captureDir
	}
	if flags.Changed("zmq") {
		cfg.ZMQ.Endpoint = o.zmq
	}
	if flags.Changed("redis") {
		cfg.Redis.Addr = o.redis
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
