// Package config loads the connserverd configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cyberinferno/go-connserver/admission"
	"github.com/cyberinferno/go-connserver/logger"
	"github.com/cyberinferno/go-connserver/server"
)

// ServerConfig mirrors server.Options.
type ServerConfig struct {
	Name          string        `yaml:"name"`
	Interfaces    string        `yaml:"interfaces"`
	DefaultPort   int           `yaml:"default_port"`
	MinThreads    int           `yaml:"min_threads"`
	MaxThreads    int           `yaml:"max_threads"`
	SpareThreads  int           `yaml:"spare_threads"`
	QueueSize     int           `yaml:"queue_size"`
	AcceptTimeout time.Duration `yaml:"accept_to"`
	ReadTimeout   time.Duration `yaml:"read_to"`
	IdleTimeout   time.Duration `yaml:"idle_to"`
	StopTimeout   time.Duration `yaml:"stop_to"`
	Greeting      string        `yaml:"greeting"`
}

// LogConfig selects the log level and the optional daily log file directory.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// AdminConfig configures the HTTP admin endpoint. An empty Addr disables it.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// AdmissionConfig lists peer admission rules.
type AdmissionConfig struct {
	Allow      []string `yaml:"allow"`
	Deny       []string `yaml:"deny"`
	MaxPerPeer int      `yaml:"max_per_peer"`
}

// RedisConfig locates a Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ResolverConfig configures reverse DNS of peers.
type ResolverConfig struct {
	Enabled bool          `yaml:"enabled"`
	Cache   string        `yaml:"cache"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
	Redis   RedisConfig   `yaml:"redis"`
}

// Resolver cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the whole configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Admission AdmissionConfig `yaml:"admission"`
	Resolver  ResolverConfig  `yaml:"resolver"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	o := server.DefaultOptions()

	return Config{
		Server: ServerConfig{
			Name:          "connserverd",
			Interfaces:    "127.0.0.1:2525",
			DefaultPort:   o.DefaultPort,
			MinThreads:    o.MinThreads,
			MaxThreads:    o.MaxThreads,
			SpareThreads:  o.SpareThreads,
			QueueSize:     o.QueueSize,
			AcceptTimeout: o.AcceptTimeout,
			ReadTimeout:   o.ReadTimeout,
			IdleTimeout:   o.IdleTimeout,
			StopTimeout:   o.StopTimeout,
			Greeting:      "connserverd ready",
		},
		Log: LogConfig{Level: "info"},
		Resolver: ResolverConfig{
			Cache:   CacheMemory,
			TTL:     10 * time.Minute,
			Timeout: 500 * time.Millisecond,
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "connserverd:rdns:",
			},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are an error.
//
// Parameters:
//   - path: YAML file location
//
// Returns:
//   - The validated configuration
//   - An error if the file cannot be read, parsed or validated
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.decode(data); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err := dec.Decode(c)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Validate checks the server options and the daemon settings.
func (c Config) Validate() error {
	if err := c.ServerOptions().Validate(); err != nil {
		return err
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if c.Admission.MaxPerPeer < 0 {
		return fmt.Errorf("admission: negative max_per_peer %d", c.Admission.MaxPerPeer)
	}

	switch c.Resolver.Cache {
	case CacheMemory:
	case CacheRedis:
		if c.Resolver.Redis.Addr == "" {
			return errors.New("resolver: redis cache needs redis.addr")
		}
	default:
		return fmt.Errorf("resolver: unknown cache %q", c.Resolver.Cache)
	}

	return nil
}

// ServerOptions converts the server section.
func (c Config) ServerOptions() server.Options {
	s := c.Server
	return server.Options{
		Name:          s.Name,
		Interfaces:    s.Interfaces,
		DefaultPort:   s.DefaultPort,
		MinThreads:    s.MinThreads,
		MaxThreads:    s.MaxThreads,
		SpareThreads:  s.SpareThreads,
		QueueSize:     s.QueueSize,
		AcceptTimeout: s.AcceptTimeout,
		ReadTimeout:   s.ReadTimeout,
		IdleTimeout:   s.IdleTimeout,
		StopTimeout:   s.StopTimeout,
	}
}

// AdmissionRules converts the admission section.
func (c Config) AdmissionRules() admission.Config {
	return admission.Config{
		Allow:      c.Admission.Allow,
		Deny:       c.Admission.Deny,
		MaxPerPeer: c.Admission.MaxPerPeer,
	}
}
