package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "ORBDASH"

// setDefaults registers a default for every scalar key so that environment
// variables can override keys that appear in no config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("dispatcher.request_queue_size", 10)
	v.SetDefault("dispatcher.response_queue_size", 10)
	v.SetDefault("dispatcher.max_concurrent", 2)
	v.SetDefault("dispatcher.leak_check_interval", 30*time.Second)
	v.SetDefault("dispatcher.max_execution_contexts", 0)

	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.retries", 0)
	v.SetDefault("fetch.retry_delay", time.Second)
	v.SetDefault("fetch.user_agent", "orbdash")

	v.SetDefault("loop.tick_interval", 20*time.Millisecond)
	v.SetDefault("loop.cycle_interval", 0)
	v.SetDefault("loop.mailbox_size", 16)
	v.SetDefault("loop.shutdown_timeout", 5*time.Second)

	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.port", 8080)
}

// Load reads configuration from defaults, the config file at path (or
// ./orbdash.yaml when path is empty and the file exists) and environment
// variables. It returns a validated Config or an error.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("orbdash")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags and cross-field rules.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Widgets))
	for _, w := range cfg.Widgets {
		if seen[w.Name] {
			return fmt.Errorf("validation failed: duplicate widget name %q", w.Name)
		}
		seen[w.Name] = true
	}

	return nil
}
