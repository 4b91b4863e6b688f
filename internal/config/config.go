// Package config loads cmd/tenon's startup settings: a viper instance
// bound to a single YAML file, with flags taking precedence over whatever
// the file declares. Nothing under internal/ reads this package directly —
// every core component takes its dependencies as constructor arguments,
// never a global config lookup.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is everything cmd/tenon needs to wire the core packages together.
type Config struct {
	RulesPath      string `mapstructure:"rules_path"`
	ThresholdsPath string `mapstructure:"thresholds_path"`
	MySQLDSN       string `mapstructure:"mysql_dsn"`
	LogLevel       string `mapstructure:"log_level"`
	KeyVersion     string `mapstructure:"key_version"`
	DeciderVersion string `mapstructure:"decider_version"`
}

// Defaults mirrors the zero-config behavior a fresh checkout should have.
func Defaults() Config {
	return Config{
		RulesPath:      "rules.yaml",
		ThresholdsPath: "thresholds.yaml",
		LogLevel:       "info",
		KeyVersion:     "1",
		DeciderVersion: "1",
	}
}

// Load reads path (if it exists) into a fresh viper instance layered over
// Defaults. A viper.New per call, never the package-global viper instance,
// so two loads can't bleed state into each other.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetDefault("rules_path", cfg.RulesPath)
	v.SetDefault("thresholds_path", cfg.ThresholdsPath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("key_version", cfg.KeyVersion)
	v.SetDefault("decider_version", cfg.DeciderVersion)
	v.SetEnvPrefix("tenon")
	v.AutomaticEnv()

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
