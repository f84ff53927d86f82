package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"flowmap-stream-go/internal/capture"
	"flowmap-stream-go/internal/client"
	"flowmap-stream-go/internal/config"
	"flowmap-stream-go/internal/logging"
	"flowmap-stream-go/internal/server"
	"flowmap-stream-go/internal/sink"
)

// app holds everything one command run needs, closed in reverse order.
type app struct {
	cfg      config.AppConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	client   *client.Client
	server   *server.Server
	closers  []func() error
}

type appOptions struct {
	sinks  bool
	server bool
}

func newApp(cfg config.AppConfig, opts appOptions) (*app, error) {
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clientOpts := []client.Option{
		client.WithLogger(logger.Named("client")),
		client.WithRegisterer(a.registry),
	}
	if cfg.Capture.Enabled {
		writer, err := capture.NewWriter(cfg.Capture.Dir, "flowmap")
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("capturing wire messages", zap.String("path", writer.Path()))
		a.closers = append(a.closers, writer.Close)
		clientOpts = append(clientOpts, client.WithRecorder(writer))
	}

	a.client = client.New(cfg.ClientConfig(), clientOpts...)
	a.closers = append(a.closers, func() error {
		a.client.Close()
		return nil
	})

	if opts.sinks {
		if err := a.startSinks(); err != nil {
			a.Close()
			return nil, err
		}
	}
	if opts.server && cfg.HTTP.Listen != "" {
		a.server = server.New(a.client, a.registry, logger.Named("http"))
	}
	return a, nil
}

func (a *app) startSinks() error {
	var sinks []sink.Sink
	if a.cfg.ZMQ.Endpoint != "" {
		pub, err := sink.NewZMQPublisher(a.cfg.ZMQ.Endpoint)
		if err != nil {
			return err
		}
		a.logger.Info("publishing images", zap.String("endpoint", a.cfg.ZMQ.Endpoint))
		sinks = append(sinks, pub)
	}
	if a.cfg.Redis.Addr != "" {
		sinks = append(sinks, sink.NewRedisLatest(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		}, a.cfg.Redis.KeyPrefix, a.cfg.Redis.TTL))
		a.logger.Info("caching latest images", zap.String("redis", a.cfg.Redis.Addr))
	}
	if len(sinks) == 0 {
		return nil
	}
	fanout, err := sink.NewFanout(a.cfg.Sinks.QueueSize, a.logger.Named("sink"), sinks...)
	if err != nil {
		for _, s := range sinks {
			_ = s.Close()
		}
		return err
	}
	unsubscribe := a.client.Subscribe(fanout.Listener())
	// Registered before the client closer runs, so it is closed after it.
	a.closers = append([]func() error{fanout.Close}, a.closers...)
	a.closers = append(a.closers, func() error {
		unsubscribe()
		return nil
	})
	return nil
}

// serve runs the status server when configured; it returns when ctx ends.
func (a *app) serve(ctx context.Context) {
	if a.server == nil {
		return
	}
	go func() {
		if err := a.server.Run(ctx, a.cfg.HTTP.Listen); err != nil {
			a.logger.Error("status server stopped", zap.Error(err))
		}
	}()
}

func (a *app) connect(ctx context.Context) error {
	return a.client.Connect(ctx, a.cfg.Server.Address, a.cfg.Server.Port)
}

// connectWithRetry keeps dialing until it succeeds or ctx ends.
func (a *app) connectWithRetry(ctx context.Context, every time.Duration) error {
	for {
		err := a.connect(ctx)
		if err == nil || errors.Is(err, client.ErrClosed) {
			return err
		}
		a.logger.Warn("connect failed, retrying", zap.Error(err), zap.Duration("in", every))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
