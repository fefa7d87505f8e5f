// Package config loads slidegen settings from .slidegen.yaml and SLIDEGEN_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/thywilljoshua/slidegen/internal/invoker"
	"github.com/thywilljoshua/slidegen/internal/logging"
	"github.com/thywilljoshua/slidegen/internal/quota"
)

type Config struct {
	Backend    string           `mapstructure:"backend"`
	Generation GenerationConfig `mapstructure:"generation"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Rate       RateConfig       `mapstructure:"rate"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Prefs      PrefsConfig      `mapstructure:"prefs"`
	Output     OutputConfig     `mapstructure:"output"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPClientConfig `mapstructure:"http"`
}

// GenerationConfig is the default remote configuration for every run.
type GenerationConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ChatAPIURL  string `mapstructure:"chat_api_url"`
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	ImageModel  string `mapstructure:"image_model"`
	Language    string `mapstructure:"language"`
	Style       string `mapstructure:"style"`
	AspectRatio string `mapstructure:"aspect_ratio"`
	PageCount   int    `mapstructure:"page_count"`
	InviteCode  string `mapstructure:"invite_code"`
}

type GeminiConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Workdir  string `mapstructure:"workdir"`
	Parallel int    `mapstructure:"parallel"`
}

type LimitsConfig struct {
	MaxSourceMB  int64 `mapstructure:"max_source_mb"`
	MaxTextChars int   `mapstructure:"max_text_chars"`
	MaxPages     int   `mapstructure:"max_pages"`
}

// RateConfig paces calls to the generation service. Zero disables pacing.
type RateConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// QuotaConfig selects where daily usage is counted: a local file (default),
// Redis when several machines share one quota, or memory for a single run.
type QuotaConfig struct {
	Store         string `mapstructure:"store"`
	Path          string `mapstructure:"path"`
	RedisURL      string `mapstructure:"redis_url"`
	Prefix        string `mapstructure:"prefix"`
	Anonymous     int    `mapstructure:"anonymous"`
	Authenticated int    `mapstructure:"authenticated"`
	Timezone      string `mapstructure:"timezone"`
}

type IdentityConfig struct {
	AccountID       string `mapstructure:"account_id"`
	FingerprintFile string `mapstructure:"fingerprint_file"`
}

type PrefsConfig struct {
	Path string `mapstructure:"path"`
}

type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Colors bool   `mapstructure:"colors"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPClientConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads cfgFile, or .slidegen.yaml from the working directory or
// $HOME/.config/slidegen, then applies SLIDEGEN_* overrides.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".slidegen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/slidegen")
	}

	v.SetEnvPrefix("SLIDEGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	dir := configDir()

	v.SetDefault("backend", "http")

	// Generation keys default empty so last-used preferences can fill them;
	// every key still needs a default for AutomaticEnv to see it on Unmarshal.
	v.SetDefault("generation.endpoint", "")
	v.SetDefault("generation.chat_api_url", "")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.image_model", "")
	v.SetDefault("generation.invite_code", "")
	v.SetDefault("generation.language", "")
	v.SetDefault("generation.style", "")
	v.SetDefault("generation.aspect_ratio", "")
	v.SetDefault("generation.page_count", 0)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.workdir", filepath.Join(os.TempDir(), "slidegen"))
	v.SetDefault("gemini.parallel", 4)

	v.SetDefault("limits.max_source_mb", 50)
	v.SetDefault("limits.max_text_chars", 100000)
	v.SetDefault("limits.max_pages", 200)

	v.SetDefault("rate.per_minute", 30)
	v.SetDefault("rate.burst", 2)

	v.SetDefault("quota.store", "file")
	v.SetDefault("quota.path", filepath.Join(dir, "quota.json"))
	v.SetDefault("quota.redis_url", "redis://localhost:6379/0")
	v.SetDefault("quota.prefix", "slidegen:quota")
	v.SetDefault("quota.anonymous", 5)
	v.SetDefault("quota.authenticated", 10)
	v.SetDefault("quota.timezone", "Local")

	v.SetDefault("identity.account_id", "")
	v.SetDefault("identity.fingerprint_file", filepath.Join(dir, "fingerprint"))

	v.SetDefault("prefs.path", filepath.Join(dir, "prefs.json"))

	v.SetDefault("output.dir", "slidegen-out")
	v.SetDefault("output.colors", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("http.timeout", 10*time.Minute)
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "slidegen")
	}
	return ".slidegen"
}

func validate(cfg *Config) error {
	switch cfg.Backend {
	case "http", "gemini":
	default:
		return fmt.Errorf("invalid backend: %s (must be http or gemini)", cfg.Backend)
	}
	switch cfg.Quota.Store {
	case "memory":
	case "file":
		if strings.TrimSpace(cfg.Quota.Path) == "" {
			return fmt.Errorf("quota.path is required when quota.store is file")
		}
	case "redis":
		if strings.TrimSpace(cfg.Quota.RedisURL) == "" {
			return fmt.Errorf("quota.redis_url is required when quota.store is redis")
		}
	default:
		return fmt.Errorf("invalid quota store: %s (must be file, redis or memory)", cfg.Quota.Store)
	}
	if cfg.Quota.Anonymous < 0 || cfg.Quota.Authenticated < 0 {
		return fmt.Errorf("quota limits must not be negative")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s (must be text or json)", cfg.Logging.Format)
	}
	if cfg.Gemini.Parallel < 0 {
		return fmt.Errorf("gemini.parallel must not be negative")
	}
	return nil
}

// Location is the time zone quota days are counted in.
func (c *Config) Location() (*time.Location, error) {
	if c.Quota.Timezone == "" || c.Quota.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", c.Quota.Timezone, err)
	}
	return loc, nil
}

// Builtin fills whatever neither the config nor preferences set.
var Builtin = invoker.Settings{
	Endpoint:    "http://localhost:8000",
	Language:    "en",
	AspectRatio: "16:9",
}

func (c *Config) Settings() invoker.Settings {
	g := c.Generation
	return invoker.Settings{
		Endpoint:    g.Endpoint,
		ChatAPIURL:  g.ChatAPIURL,
		APIKey:      g.APIKey,
		Model:       g.Model,
		ImageModel:  g.ImageModel,
		Language:    g.Language,
		Style:       g.Style,
		AspectRatio: g.AspectRatio,
		PageCount:   g.PageCount,
		InviteCode:  g.InviteCode,
	}
}

func (c *Config) InvokerLimits() invoker.Limits {
	return invoker.Limits{
		MaxSourceBytes: c.Limits.MaxSourceMB << 20,
		MaxTextChars:   c.Limits.MaxTextChars,
		MaxPages:       c.Limits.MaxPages,
	}
}

func (c *Config) QuotaLimits() quota.Limits {
	return quota.Limits{Anonymous: c.Quota.Anonymous, Authenticated: c.Quota.Authenticated}
}
