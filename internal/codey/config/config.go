// Package config layers viper configuration loading on top of the
// options package: values from a config file are applied over the
// flag-populated Options, so a key the file sets replaces the flag's
// value.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"codey/internal/codey/options"
)

// Config wraps a fully validated Options.
type Config struct {
	*options.Options
}

// Load reads configFile (if non-empty) and unmarshals it over the
// flag-populated Options, then validates the result. A CODEY_-prefixed
// environment variable overrides the file's value only for a key the
// file also sets; with an empty configFile neither a file nor the
// environment is read and only flags and defaults apply.
func Load(configFile string, opts *options.Options) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("codey")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
		if err := v.Unmarshal(opts); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configFile, err)
		}
	}

	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs)
	}
	return &Config{Options: opts}, nil
}
