package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names the config file when --config is not given.
const PathEnvVar = "REWIND_CONFIG"

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: REWIND_SERVER__ADDR sets server.addr.
const EnvPrefix = "REWIND_"

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{
	"rewind.yaml",
	"rewind.yml",
	"/etc/rewind/rewind.yaml",
}

// Load builds the configuration from defaults, the YAML file at path (or
// the first default path found) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = findFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	// Unset keys keep the defaults already in cfg.
	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey maps REWIND_REWIND__SESSION_TIMEOUT to rewind.session_timeout.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
