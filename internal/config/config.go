package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// The message the storefront API answers /logout with when the session is
// already gone.
const DefaultLoggedOutMessage = "請重新登出"

type Config struct {
	API struct {
		BaseURL          string        `koanf:"base_url"`
		Path             string        `koanf:"path"`
		Timeout          time.Duration `koanf:"timeout"`
		AuthScheme       string        `koanf:"auth_scheme"`
		LoggedOutMessage string        `koanf:"logged_out_message"`
	} `koanf:"api"`

	Slots struct {
		Mode          string `koanf:"mode"`
		File          string `koanf:"file"`
		Key           string `koanf:"key"`
		RedisAddr     string `koanf:"redis_addr"`
		RedisPassword string `koanf:"redis_password"`
		DatabaseURL   string `koanf:"database_url"`
	} `koanf:"slots"`

	Log struct {
		File  string `koanf:"file"`
		Level string `koanf:"level"`
	} `koanf:"log"`

	Notify struct {
		WebhookURL string        `koanf:"webhook_url"`
		Timeout    time.Duration `koanf:"timeout"`
	} `koanf:"notify"`

	Devserver struct {
		ListenAddr    string        `koanf:"listen_addr"`
		APIPath       string        `koanf:"api_path"`
		AdminUsername string        `koanf:"admin_username"`
		AdminPassword string        `koanf:"admin_password"`
		JWTSecret     string        `koanf:"jwt_secret"`
		TokenTTL      time.Duration `koanf:"token_ttl"`
		PageSize      int           `koanf:"page_size"`
	} `koanf:"devserver"`
}

// Load reads an optional YAML file at path, then overlays STOREFRONT_*
// environment variables (nested with __, e.g. STOREFRONT_API__BASE_URL).
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}
	if err := k.Load(env.Provider("STOREFRONT_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "STOREFRONT_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:18080"
	}
	if c.API.Path == "" {
		c.API.Path = "storefront"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.API.LoggedOutMessage == "" {
		c.API.LoggedOutMessage = DefaultLoggedOutMessage
	}
	if c.Slots.Mode == "" {
		c.Slots.Mode = "file"
	}
	if c.Slots.File == "" {
		c.Slots.File = defaultSlotFile()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 5 * time.Second
	}
	if c.Devserver.ListenAddr == "" {
		c.Devserver.ListenAddr = ":18080"
	}
	if c.Devserver.APIPath == "" {
		c.Devserver.APIPath = c.API.Path
	}
	if c.Devserver.AdminUsername == "" {
		c.Devserver.AdminUsername = "admin@example.com"
	}
	if c.Devserver.AdminPassword == "" {
		c.Devserver.AdminPassword = "change-me"
	}
	if c.Devserver.JWTSecret == "" {
		c.Devserver.JWTSecret = "change-this-secret"
	}
	if c.Devserver.TokenTTL == 0 {
		c.Devserver.TokenTTL = 12 * time.Hour
	}
	if c.Devserver.PageSize == 0 {
		c.Devserver.PageSize = 10
	}
}

func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	switch c.Slots.Mode {
	case "memory", "file":
	case "redis":
		if c.Slots.RedisAddr == "" {
			return fmt.Errorf("slots.redis_addr required for redis mode")
		}
	case "postgres":
		if c.Slots.DatabaseURL == "" {
			return fmt.Errorf("slots.database_url required for postgres mode")
		}
	default:
		return fmt.Errorf("slots.mode %q not supported", c.Slots.Mode)
	}
	if c.Devserver.PageSize <= 0 {
		return fmt.Errorf("devserver.page_size must be positive")
	}
	return nil
}

func defaultSlotFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".storefront/slots.json"
	}
	return dir + "/storefront/slots.json"
}
