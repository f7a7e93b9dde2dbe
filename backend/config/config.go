// Package config assembles the relay configuration from defaults, an optional
// YAML file, the environment and command line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr        = ":8080"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSendBuffer        = 64
	DefaultWriteTimeout      = 5 * time.Second
	DefaultMaxMessageSize    = 4096
	DefaultLogLevel          = "info"
)

// Environment variables understood by ApplyEnv.
const (
	EnvPort              = "PORT"
	EnvListenAddr        = "LISTEN_ADDR"
	EnvHeartbeatInterval = "HEARTBEAT_INTERVAL"
	EnvLogLevel          = "LOG_LEVEL"
)

var (
	ErrInvalid = errors.New("invalid configuration")
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	// ListenAddr serves the HTTP API and websocket upgrades.
	ListenAddr string `yaml:"listen_addr"`
}

type HeartbeatConfig struct {
	// Interval between pings. A client is dropped after two intervals without a pong.
	Interval time.Duration `yaml:"interval"`
}

type WebSocketConfig struct {
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Server:    ServerConfig{ListenAddr: DefaultListenAddr},
		Heartbeat: HeartbeatConfig{Interval: DefaultHeartbeatInterval},
		WebSocket: WebSocketConfig{
			SendBuffer:     DefaultSendBuffer,
			WriteTimeout:   DefaultWriteTimeout,
			MaxMessageSize: DefaultMaxMessageSize,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// Load reads the YAML file at path on top of the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Resolve builds the effective config: the file at path, then lookup, then the
// flags set in fs. Nil lookup or fs skip that layer. It is used both at startup
// and on reload so a file change never outranks the environment or flags.
func Resolve(path string, lookup func(string) (string, bool), fs *pflag.FlagSet) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if lookup != nil {
		if err = cfg.ApplyEnv(lookup); err != nil {
			return nil, fmt.Errorf("config: env: %w", err)
		}
	}
	if fs != nil {
		if err = cfg.ApplyFlags(fs); err != nil {
			return nil, fmt.Errorf("config: flags: %w", err)
		}
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. PORT is honoured for
// platforms that only hand out a port number; LISTEN_ADDR wins over it.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return errors.Join(ErrInvalid, fmt.Errorf("%s=%q is not a port", EnvPort, v))
		}
		c.Server.ListenAddr = ":" + v
	}
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		c.Server.ListenAddr = v
	}
	if v, ok := lookup(EnvHeartbeatInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Join(ErrInvalid, fmt.Errorf("%s: %w", EnvHeartbeatInterval, err))
		}
		c.Heartbeat.Interval = d
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	return c.Validate()
}

// RegisterFlags defines the flags ApplyFlags understands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("listen-addr", "a", DefaultListenAddr, "http and websocket listen address")
	fs.Duration("heartbeat-interval", DefaultHeartbeatInterval, "interval between liveness pings")
	fs.Int("send-buffer", DefaultSendBuffer, "per connection outbound message buffer")
	fs.Duration("write-timeout", DefaultWriteTimeout, "websocket write deadline")
	fs.Int64("max-message-size", DefaultMaxMessageSize, "largest inbound websocket frame in bytes")
	fs.StringP("log-level", "l", DefaultLogLevel, "log level")
}

// ApplyFlags overrides settings with the flags that were set explicitly.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	if fs.Changed("listen-addr") {
		c.Server.ListenAddr, err = fs.GetString("listen-addr")
	}
	if err == nil && fs.Changed("heartbeat-interval") {
		c.Heartbeat.Interval, err = fs.GetDuration("heartbeat-interval")
	}
	if err == nil && fs.Changed("send-buffer") {
		c.WebSocket.SendBuffer, err = fs.GetInt("send-buffer")
	}
	if err == nil && fs.Changed("write-timeout") {
		c.WebSocket.WriteTimeout, err = fs.GetDuration("write-timeout")
	}
	if err == nil && fs.Changed("max-message-size") {
		c.WebSocket.MaxMessageSize, err = fs.GetInt64("max-message-size")
	}
	if err == nil && fs.Changed("log-level") {
		c.Log.Level, err = fs.GetString("log-level")
	}
	if err != nil {
		return errors.Join(ErrInvalid, err)
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat.interval %v must be positive", c.Heartbeat.Interval))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("websocket.send_buffer %d must be positive", c.WebSocket.SendBuffer))
	}
	if c.WebSocket.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("websocket.write_timeout %v must be positive", c.WebSocket.WriteTimeout))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("websocket.max_message_size %d must be positive", c.WebSocket.MaxMessageSize))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q: %w", c.Log.Level, err))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalid}, errs...)...)
	}
	return nil
}

func (c *Config) LogLevel() (zerolog.Level, error) {
	if c.Log.Level == "" {
		return zerolog.NoLevel, errors.New("level is empty")
	}
	return zerolog.ParseLevel(c.Log.Level)
}
