// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type APIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	PassID        string        `yaml:"pass_id"`
	Timeout       time.Duration `yaml:"timeout"`        // per request
	SubmitTimeout time.Duration `yaml:"submit_timeout"` // bounds one guarded submission
}

type AssetsConfig struct {
	Host   string `yaml:"host"`   // own asset host, e.g. assets.example.com
	Folder string `yaml:"folder"` // storage folder for uploads
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type StreamConfig struct {
	Grace time.Duration `yaml:"grace"` // wait after a channel failure
}

type CreditsConfig struct {
	StaleAfter      time.Duration `yaml:"stale_after"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type CategoryConfig struct {
	Max    int    `yaml:"max"`
	Policy string `yaml:"policy"` // replace|append
}

type UploadsConfig struct {
	Workers    int                       `yaml:"workers"`
	MaxBytes   int64                     `yaml:"max_bytes"`
	PreviewDir string                    `yaml:"preview_dir"` // empty: OS temp dir
	Categories map[string]CategoryConfig `yaml:"categories"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables the cross-process fence
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	FenceTTL time.Duration `yaml:"fence_ttl"`
}

type ServerConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"` // optional bearer key for the bridge
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type Config struct {
	API     APIConfig     `yaml:"api"`
	Assets  AssetsConfig  `yaml:"assets"`
	Poll    PollConfig    `yaml:"poll"`
	Stream  StreamConfig  `yaml:"stream"`
	Credits CreditsConfig `yaml:"credits"`
	Uploads UploadsConfig `yaml:"uploads"`
	Redis   RedisConfig   `yaml:"redis"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. A missing file is not an error:
// defaults and MINA_* environment variables (optionally from .env) are
// enough to run.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env files are optional; real environment wins over them.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MINA_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("MINA_PASS_ID"); v != "" {
		cfg.API.PassID = v
	}
	if v := os.Getenv("MINA_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("MINA_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
}

// DefaultCategories are the reference buckets used when none are configured.
func DefaultCategories() map[string]CategoryConfig {
	return map[string]CategoryConfig{
		"product":     {Max: 1, Policy: "replace"},
		"logo":        {Max: 1, Policy: "replace"},
		"inspiration": {Max: 4, Policy: "append"},
	}
}

func applyDefaults(cfg *Config) {
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	cfg.API.Timeout = orDefault(cfg.API.Timeout, 30*time.Second)
	cfg.API.SubmitTimeout = orDefault(cfg.API.SubmitTimeout, 60*time.Second)

	if cfg.Assets.Folder == "" {
		cfg.Assets.Folder = "user_uploads"
	}
	cfg.Assets.Host = strings.ToLower(strings.TrimSpace(cfg.Assets.Host))

	cfg.Poll.Interval = orDefault(cfg.Poll.Interval, 900*time.Millisecond)
	cfg.Poll.Timeout = orDefault(cfg.Poll.Timeout, 180*time.Second)
	cfg.Stream.Grace = orDefault(cfg.Stream.Grace, time.Second)
	cfg.Credits.StaleAfter = orDefault(cfg.Credits.StaleAfter, 30*time.Second)
	cfg.Credits.RefreshInterval = orDefault(cfg.Credits.RefreshInterval, 15*time.Second)

	if cfg.Uploads.Workers <= 0 {
		cfg.Uploads.Workers = 4
	}
	if cfg.Uploads.MaxBytes <= 0 {
		cfg.Uploads.MaxBytes = 25 << 20
	}
	if len(cfg.Uploads.Categories) == 0 {
		cfg.Uploads.Categories = DefaultCategories()
	}
	for name, c := range cfg.Uploads.Categories {
		if c.Policy == "" {
			c.Policy = "append"
		}
		cfg.Uploads.Categories[name] = c
	}

	cfg.Redis.FenceTTL = orDefault(cfg.Redis.FenceTTL, 2*time.Minute)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8787"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate performs minimal validation.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL: %q", c.API.BaseURL)
	}
	if c.Assets.Host == "" {
		return errors.New("assets.host is required")
	}
	for name, cat := range c.Uploads.Categories {
		if cat.Max < 1 {
			return fmt.Errorf("uploads.categories.%s.max must be >= 1", name)
		}
		if cat.Policy != "replace" && cat.Policy != "append" {
			return fmt.Errorf("uploads.categories.%s.policy must be replace or append", name)
		}
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
