package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"talespinner/gateway"
	"talespinner/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const (
	configDir      = ".talespinner"
	configFilePath = ".talespinner/config.yaml"
	backupFilePath = ".talespinner/config.yaml.bak"
	envPrefix      = "TALESPINNER"
)

type APIConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	Timeout      string `yaml:"timeout" mapstructure:"timeout"`
	RetryMax     int    `yaml:"retry_max" mapstructure:"retry_max"`
	RetryWaitMin string `yaml:"retry_wait_min" mapstructure:"retry_wait_min"`
	RetryWaitMax string `yaml:"retry_wait_max" mapstructure:"retry_wait_max"`
}

type CatalogConfig struct {
	TTL string `yaml:"ttl" mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

type Preferences struct {
	DataDir        string `yaml:"data_dir" mapstructure:"data_dir"`
	AutoAdvance    bool   `yaml:"auto_advance" mapstructure:"auto_advance"`
	RenderMarkdown bool   `yaml:"render_markdown" mapstructure:"render_markdown"`
}

type AppConfig struct {
	API         APIConfig     `yaml:"api" mapstructure:"api"`
	Catalog     CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Logging     LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Preferences Preferences   `yaml:"preferences" mapstructure:"preferences"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		API: APIConfig{
			BaseURL:      "http://localhost:8000",
			Timeout:      "300s",
			RetryMax:     3,
			RetryWaitMin: "1s",
			RetryWaitMax: "10s",
		},
		Catalog: CatalogConfig{TTL: "10m"},
		Logging: LoggingConfig{Level: "info", File: "~/.talespinner/talespinner.log"},
		Preferences: Preferences{
			AutoAdvance:    true,
			RenderMarkdown: true,
		},
	}
}

// Validate checks the fields that are parsed later.
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.RetryMax < 0 {
		return errors.New("api.retry_max must not be negative")
	}
	durations := map[string]string{
		"api.timeout":        c.API.Timeout,
		"api.retry_wait_min": c.API.RetryWaitMin,
		"api.retry_wait_max": c.API.RetryWaitMax,
		"catalog.ttl":        c.Catalog.TTL,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// GatewayOptions converts the api section into client options. Invalid
// durations fall back to the client defaults.
func (c AppConfig) GatewayOptions(logger *zap.Logger) gateway.Options {
	opts := gateway.DefaultOptions()
	opts.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	opts.RetryMax = c.API.RetryMax
	opts.Timeout = durationOr(c.API.Timeout, opts.Timeout)
	opts.RetryWaitMin = durationOr(c.API.RetryWaitMin, opts.RetryWaitMin)
	opts.RetryWaitMax = durationOr(c.API.RetryWaitMax, opts.RetryWaitMax)
	opts.Logger = logger
	return opts
}

func (c AppConfig) CatalogTTL() time.Duration {
	return durationOr(c.Catalog.TTL, 10*time.Minute)
}

func (c AppConfig) LoggingOptions() (logging.Options, error) {
	file, err := expandHome(c.Logging.File)
	if err != nil {
		return logging.Options{}, err
	}
	return logging.Options{Level: c.Logging.Level, File: file}, nil
}

// DataDir is where the state database lives.
func (c AppConfig) DataDir() (string, error) {
	if c.Preferences.DataDir == "" {
		return FullFilePath(configDir)
	}
	return expandHome(c.Preferences.DataDir)
}

func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		return FullFilePath(strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path, nil
}

func FullFilePath(relPath string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, relPath), nil
}

func setDefaults(v *viper.Viper, cfg AppConfig) {
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.retry_max", cfg.API.RetryMax)
	v.SetDefault("api.retry_wait_min", cfg.API.RetryWaitMin)
	v.SetDefault("api.retry_wait_max", cfg.API.RetryWaitMax)
	v.SetDefault("catalog.ttl", cfg.Catalog.TTL)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("preferences.data_dir", cfg.Preferences.DataDir)
	v.SetDefault("preferences.auto_advance", cfg.Preferences.AutoAdvance)
	v.SetDefault("preferences.render_markdown", cfg.Preferences.RenderMarkdown)
}

// LoadAppConfig reads the config file, creating it with defaults on first
// run, and overlays TALESPINNER_* environment variables (a .env file in the
// working directory is honoured). A config that loads cleanly is copied to
// the backup file.
func LoadAppConfig() (AppConfig, error) {
	_ = godotenv.Load()

	fullPath, err := FullFilePath(configFilePath)
	if err != nil {
		return AppConfig{}, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		if err := SaveAppConfig(DefaultAppConfig()); err != nil {
			return AppConfig{}, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultAppConfig())
	v.SetConfigFile(fullPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return AppConfig{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}

	if err := copyFile(fullPath, backupFilePath); err != nil {
		return cfg, fmt.Errorf("failed to back up config: %w", err)
	}
	return cfg, nil
}

func SaveAppConfig(cfg AppConfig) error {
	fullPath, err := FullFilePath(configFilePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(fullPath, data, 0600)
}

func ResetAppConfigToDefault() error {
	return SaveAppConfig(DefaultAppConfig())
}

func RevertAppConfigToBackup() error {
	backupPath, err := FullFilePath(backupFilePath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("no backup available: %w", err)
	}
	fullPath, err := FullFilePath(configFilePath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}
	return os.WriteFile(fullPath, data, 0600)
}

func copyFile(src, relDst string) error {
	dst, err := FullFilePath(relDst)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}
