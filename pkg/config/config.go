// Package config bootstraps viper instances for the CLI commands. It layers
// defaults, an optional config file and prefixed environment variables on a
// fresh instance rather than the global viper state.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Options shape one loader instance.
type Options struct {
	// EnvPrefix namespaces environment overrides: keys are uppercased and
	// dots become underscores, so "server.port" reads <PREFIX>_SERVER_PORT.
	EnvPrefix string

	// File is an explicit config file path. When set, a read failure is
	// fatal. When empty, SearchPaths are probed for Name.* and a missing
	// file falls back to defaults plus environment.
	File string

	// Name is the base file name, without extension, probed in the search
	// paths. Defaults to "config".
	Name string

	// SearchPaths lists directories probed when File is empty. Defaults to
	// the working directory.
	SearchPaths []string

	// Defaults seeds keys before the file and environment are applied.
	// Every known key should carry a default so environment-only overrides
	// survive unmarshalling.
	Defaults map[string]any
}

// New builds a configured viper instance: defaults first, then the config
// file, then environment variables on top.
func New(opts Options) (*viper.Viper, error) {
	v := viper.New()

	for key, value := range opts.Defaults {
		v.SetDefault(key, value)
	}

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
		return v, nil
	}

	name := opts.Name
	if name == "" {
		name = "config"
	}
	v.SetConfigName(name)
	paths := opts.SearchPaths
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, dir := range paths {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		// No file on the search path is fine; defaults and environment
		// still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load builds a viper instance per opts and unmarshals it into out via
// mapstructure tags.
func Load(opts Options, out any) error {
	v, err := New(opts)
	if err != nil {
		return err
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}
