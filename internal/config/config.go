package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"flowmap-stream-go/internal/client"
	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/store"
)

// AppConfig is the full configuration of the client process. Every field can
// come from the YAML file; command-line flags override it.
type AppConfig struct {
	Server ServerConfig `yaml:"server"`

	AutoConnect   bool          `yaml:"auto_connect"`
	BlendInterval time.Duration `yaml:"blend_interval"`
	Debug         bool          `yaml:"debug"`

	Profile         string        `yaml:"profile"`
	Classes         []string      `yaml:"classes"`
	MaxPayloadBytes uint32        `yaml:"max_payload_bytes"`
	MaxPixels       int           `yaml:"max_pixels"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadIdleTimeout time.Duration `yaml:"read_idle_timeout"`
	LogEvery        int           `yaml:"log_every"`

	HTTP    HTTPConfig    `yaml:"http"`
	Capture CaptureConfig `yaml:"capture"`
	ZMQ     ZMQConfig     `yaml:"zmq"`
	Redis   RedisConfig   `yaml:"redis"`
	Sinks   SinksConfig   `yaml:"sinks"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"` // empty disables the status server
}

type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type ZMQConfig struct {
	Endpoint string `yaml:"endpoint"` // PUB bind endpoint, empty disables
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"` // empty disables
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type SinksConfig struct {
	// QueueSize is the per-sink event backlog; events beyond it are dropped.
	QueueSize int `yaml:"queue_size"`
}

func Default() AppConfig {
	return AppConfig{
		Server:          ServerConfig{Address: "127.0.0.1", Port: 8888},
		AutoConnect:     true,
		BlendInterval:   time.Second,
		Profile:         protocol.Streaming.Name,
		Classes:         []string{store.FlowMap.String(), store.Frame.String(), store.TransformedFrame.String()},
		MaxPayloadBytes: protocol.DefaultMaxPayload,
		DialTimeout:     5 * time.Second,
		StopTimeout:     time.Second,
		WriteTimeout:    5 * time.Second,
		LogEvery:        100,
		Capture:         CaptureConfig{Dir: "capture"},
		Redis:           RedisConfig{KeyPrefix: "flowmap:", TTL: 3 * time.Minute},
		Sinks:           SinksConfig{QueueSize: 64},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.BlendInterval < 0 {
		errs = append(errs, errors.New("blend_interval must not be negative"))
	}
	if _, err := protocol.ProfileByName(c.Profile); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ImageClasses(); err != nil {
		errs = append(errs, err)
	}
	if c.Capture.Enabled && c.Capture.Dir == "" {
		errs = append(errs, errors.New("capture.dir is required when capture is enabled"))
	}
	return errors.Join(errs...)
}

func (c AppConfig) ImageClasses() ([]store.ImageClass, error) {
	classes := make([]store.ImageClass, 0, len(c.Classes))
	for _, name := range c.Classes {
		class, err := store.ParseClass(name)
		if err != nil {
			return nil, err
		}
		classes = append(classes, class)
	}
	return classes, nil
}

// ClientConfig derives the client settings. Call Validate first.
func (c AppConfig) ClientConfig() client.Config {
	profile, _ := protocol.ProfileByName(c.Profile)
	classes, _ := c.ImageClasses()
	return client.Config{
		Profile:         profile,
		Classes:         classes,
		MaxPayload:      c.MaxPayloadBytes,
		MaxPixels:       c.MaxPixels,
		DialTimeout:     c.DialTimeout,
		StopTimeout:     c.StopTimeout,
		WriteTimeout:    c.WriteTimeout,
		ReadIdleTimeout: c.ReadIdleTimeout,
		BlendInterval:   c.BlendInterval,
		LogEvery:        c.LogEvery,
		DebugLog:        c.Debug,
	}
}
