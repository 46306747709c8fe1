// Package config loads service configuration from file, .env and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/webhook"
)

// EnvPrefix prefixes environment overrides, e.g. GOFULCRUM_SERVER_ADDR.
const EnvPrefix = "GOFULCRUM"

// Server holds listener settings.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Log holds logger settings.
type Log struct {
	Env        string `mapstructure:"env"`
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// API holds settings of the cached list API.
type API struct {
	// Config names the webhook configuration whose cache is served.
	Config   string `mapstructure:"config"`
	TokenKey string `mapstructure:"token_key"`
	PerPage  int    `mapstructure:"per_page"`
}

// S3 selects an S3 compatible bucket for media binaries.
type S3 struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// Storage configures the blob store of one webhook configuration.
type Storage struct {
	Root    string `mapstructure:"root"`
	URLBase string `mapstructure:"url_base"`
	S3      S3     `mapstructure:"s3"`
}

// Webhook is one named configuration: a cache plus its remote account.
type Webhook struct {
	Name           string            `mapstructure:"-"`
	DatabaseDSN    string            `mapstructure:"database_dsn"`
	APIKey         string            `mapstructure:"api_key"`
	APIURL         string            `mapstructure:"api_url"`
	PerPage        int               `mapstructure:"per_page"`
	Storage        Storage           `mapstructure:"storage"`
	IncludeObjects string            `mapstructure:"include_objects"`
	ExcludeObjects string            `mapstructure:"exclude_objects"`
	Include        webhook.ObjectSet `mapstructure:"-"`
	Exclude        webhook.ObjectSet `mapstructure:"-"`
}

// Config is the whole configuration.
type Config struct {
	Server   Server              `mapstructure:"server"`
	Log      Log                 `mapstructure:"log"`
	API      API                 `mapstructure:"api"`
	Webhooks map[string]*Webhook `mapstructure:"webhooks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.rps", 20.0)
	v.SetDefault("server.burst", 40)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("log.env", "production")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("api.config", "default")
	v.SetDefault("api.per_page", 20)
}

// Load reads path (or ./gofulcrum.{yaml,toml,json} when empty), applies
// .env and GOFULCRUM_* overrides, parses object filters and validates.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gofulcrum")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Webhooks == nil {
		cfg.Webhooks = map[string]*Webhook{}
	}
	for name, wh := range cfg.Webhooks {
		if wh == nil {
			return nil, fmt.Errorf("webhook %s: empty configuration", name)
		}
		wh.Name = name
		if wh.PerPage <= 0 {
			wh.PerPage = cfg.API.PerPage
		}
		if dsn := os.Getenv(EnvPrefix + "_WEBHOOKS_" + strings.ToUpper(name) + "_DATABASE_DSN"); dsn != "" {
			wh.DatabaseDSN = dsn
		}
		if key := os.Getenv(EnvPrefix + "_WEBHOOKS_" + strings.ToUpper(name) + "_API_KEY"); key != "" {
			wh.APIKey = key
		}
		var err error
		if wh.Include, err = webhook.ParseObjects(wh.IncludeObjects); err != nil {
			return nil, fmt.Errorf("webhook %s include_objects: %w", name, err)
		}
		if wh.Exclude, err = webhook.ParseObjects(wh.ExcludeObjects); err != nil {
			return nil, fmt.Errorf("webhook %s exclude_objects: %w", name, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	for _, name := range c.WebhookNames() {
		wh := c.Webhooks[name]
		if wh.DatabaseDSN == "" {
			return fmt.Errorf("webhook %s: database_dsn is required", name)
		}
		if wh.APIKey == "" {
			return fmt.Errorf("webhook %s: api_key is required", name)
		}
	}
	if c.Server.Burst < 0 || c.Server.RPS < 0 {
		return fmt.Errorf("server: rps and burst must not be negative")
	}
	return nil
}

// Webhook returns the named configuration. Names are case-insensitive.
func (c *Config) Webhook(name string) (*Webhook, error) {
	wh, ok := c.Webhooks[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("webhook %s: %w", name, errs.ErrConfigNotFound)
	}
	return wh, nil
}

// WebhookNames lists configured names, sorted.
func (c *Config) WebhookNames() []string {
	out := make([]string, 0, len(c.Webhooks))
	for n := range c.Webhooks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
