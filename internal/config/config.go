package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a yaml-parseable time.Duration ("15m", "6h").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config models prunsync.yml.
type Config struct {
	Upstream struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"upstream"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Server struct {
		Listen    string   `yaml:"listen"`
		BasePath  string   `yaml:"base_path"`
		JWTSecret string   `yaml:"jwt_secret"`
		APIKeys   []string `yaml:"api_keys"`
	} `yaml:"server"`

	Scheduler struct {
		PlanetInterval         Duration `yaml:"planet_interval"`
		PlayerDispatchInterval Duration `yaml:"player_dispatch_interval"`
		ExchangeInterval       Duration `yaml:"exchange_interval"`
		PriceInterval          Duration `yaml:"price_interval"`
		StaticInterval         Duration `yaml:"static_interval"`
		ReclaimInterval        Duration `yaml:"reclaim_interval"`
		ReclaimPendingAfter    Duration `yaml:"reclaim_pending_after"`
		PlayerBatchLimit       int      `yaml:"player_batch_limit"`
		PriceWorkers           int      `yaml:"price_workers"`
	} `yaml:"scheduler"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "prunsync.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Unset
// fields keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML serializes the config for display or seeding a workspace.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("config.upstream.base_url is required")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("config.server.listen is required")
	}
	if c.Scheduler.PlayerBatchLimit <= 0 {
		return fmt.Errorf("config.scheduler.player_batch_limit must be positive")
	}
	if c.Scheduler.PriceWorkers <= 0 {
		return fmt.Errorf("config.scheduler.price_workers must be positive")
	}
	for name, d := range map[string]Duration{
		"planet_interval":          c.Scheduler.PlanetInterval,
		"player_dispatch_interval": c.Scheduler.PlayerDispatchInterval,
		"exchange_interval":        c.Scheduler.ExchangeInterval,
		"price_interval":           c.Scheduler.PriceInterval,
		"static_interval":          c.Scheduler.StaticInterval,
		"reclaim_interval":         c.Scheduler.ReclaimInterval,
		"reclaim_pending_after":    c.Scheduler.ReclaimPendingAfter,
	} {
		if d.Std() <= 0 {
			return fmt.Errorf("config.scheduler.%s must be positive", name)
		}
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Upstream.BaseURL = "https://rest.fnar.net"
	cfg.Server.Listen = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v1"
	cfg.Scheduler.PlanetInterval = Duration(time.Minute)
	cfg.Scheduler.PlayerDispatchInterval = Duration(5 * time.Minute)
	cfg.Scheduler.ExchangeInterval = Duration(15 * time.Minute)
	cfg.Scheduler.PriceInterval = Duration(6 * time.Hour)
	cfg.Scheduler.StaticInterval = Duration(24 * time.Hour)
	cfg.Scheduler.ReclaimInterval = Duration(5 * time.Minute)
	cfg.Scheduler.ReclaimPendingAfter = Duration(30 * time.Minute)
	cfg.Scheduler.PlayerBatchLimit = 100
	cfg.Scheduler.PriceWorkers = 4
	return &cfg
}
