// Package config loads the YAML configuration of the gateway and responder
// commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Client   ClientConfig   `yaml:"client"`
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Registry RegistryConfig `yaml:"registry"`
}

// ClientConfig tunes the requester side: the shared connection and streams.
type ClientConfig struct {
	Addr             string        `yaml:"addr"`
	Codec            string        `yaml:"codec"` // json | binary
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	MaxRetryDelay    time.Duration `yaml:"max_retry_delay"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	Window           uint32        `yaml:"window"`
	Heartbeat        time.Duration `yaml:"heartbeat"`
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
	FailurePolicy    string        `yaml:"failure_policy"` // cache | retry
	UseRegistry      bool          `yaml:"use_registry"`   // resolve through registry instead of addr
}

type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	Advertise      string        `yaml:"advertise"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst      int           `yaml:"rate_burst"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // request-response and fire-and-forget calls
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type StorageConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

type RegistryConfig struct {
	Endpoints []string `yaml:"endpoints"` // empty disables discovery
	Balancer  string   `yaml:"balancer"`  // round_robin | weighted_random | consistent_hash
	Key       string   `yaml:"key"`       // consistent_hash key, hostname if empty
}

// Default matches the original deployment: responder on 7000, gateway on
// 8080, five connection retries and one streamed item per second.
func Default() Config {
	return Config{
		Client: ClientConfig{
			Addr:             "localhost:7000",
			Codec:            "json",
			MaxRetries:       5,
			RetryDelay:       100 * time.Millisecond,
			MaxRetryDelay:    2 * time.Second,
			DialTimeout:      3 * time.Second,
			Window:           32,
			Heartbeat:        20 * time.Second,
			ThrottleInterval: time.Second,
			FailurePolicy:    "cache",
		},
		Server: ServerConfig{
			Listen:         ":7000",
			RequestTimeout: 5 * time.Second,
			RateBurst:      1,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			RequestTimeout: 5 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		Storage: StorageConfig{
			InMemory: true,
		},
		Registry: RegistryConfig{
			Balancer: "round_robin",
		},
	}
}

// Load reads path over Default. An empty path returns Default.
func Load(path string) (Config, error) {
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
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Client.Addr == "" && !c.Client.UseRegistry {
		errs = append(errs, errors.New("client.addr is required unless client.use_registry is set"))
	}
	if c.Client.UseRegistry && len(c.Registry.Endpoints) == 0 {
		errs = append(errs, errors.New("client.use_registry needs registry.endpoints"))
	}
	switch c.Client.Codec {
	case "", "json", "binary":
	default:
		errs = append(errs, fmt.Errorf("client.codec %q: want json or binary", c.Client.Codec))
	}
	switch c.Client.FailurePolicy {
	case "", "cache", "retry":
	default:
		errs = append(errs, fmt.Errorf("client.failure_policy %q: want cache or retry", c.Client.FailurePolicy))
	}
	if c.Client.MaxRetries < 0 {
		errs = append(errs, errors.New("client.max_retries must not be negative"))
	}
	if c.Client.ThrottleInterval < 0 {
		errs = append(errs, errors.New("client.throttle_interval must not be negative"))
	}
	if c.HTTP.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("http.max_body_bytes must not be negative"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rate_burst must be at least 1 when rate_limit is set"))
	}
	switch c.Registry.Balancer {
	case "", "round_robin", "weighted_random", "consistent_hash":
	default:
		errs = append(errs, fmt.Errorf("registry.balancer %q unknown", c.Registry.Balancer))
	}
	return errors.Join(errs...)
}
