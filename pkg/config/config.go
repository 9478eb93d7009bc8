package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir  = ".dbgval"
	configFile = "config.yml"

	// ConfigDirEnv overrides the directory holding the configuration and
	// the history file.
	ConfigDirEnv = "DBGVAL_CONFIG_DIR"
)

// Config holds the options read from config.yml.
type Config struct {
	// Aliases maps a command name to additional names for it.
	Aliases map[string][]string `yaml:"aliases"`

	// SignedCalc makes the expression evaluator compare and divide as
	// signed integers.
	SignedCalc bool `yaml:"signed-calc"`

	// Silent suppresses console notices of the expression engine.
	Silent bool `yaml:"silent"`

	// Snapshot is the target loaded when no --snapshot flag is given.
	Snapshot string `yaml:"snapshot,omitempty"`

	// PromptColor is an ANSI foreground color code.
	PromptColor int `yaml:"prompt-color"`

	// MaxAPIMatches limits the number of alternative matches printed when
	// an unqualified export name is found in several modules. Zero means
	// unlimited.
	MaxAPIMatches int `yaml:"max-api-matches"`

	ExportCacheSize int `yaml:"export-cache-size"`
}

// LoadConfig reads config.yml from the configuration directory, writing a
// commented out default file first if there is none. Problems are reported
// on stdout and an empty configuration is returned.
func LoadConfig() *Config {
	c, err := load()
	if err != nil {
		fmt.Printf("Could not load configuration: %v.\n", err)
		return &Config{}
	}
	return c
}

func load() (*Config, error) {
	dir, err := GetConfigFilePath("")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create config directory: %v", err)
	}
	path := filepath.Join(dir, configFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := ioutil.WriteFile(path, []byte(defaultConfig), 0600); err != nil {
			return nil, fmt.Errorf("unable to write default configuration: %v", err)
		}
	}
	return ReadConfig(path)
}

// ReadConfig reads the configuration file at path.
func ReadConfig(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}
	c := new(Config)
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %v", path, err)
	}
	return c, nil
}

// SaveConfig writes conf to config.yml in the configuration directory.
func SaveConfig(conf *Config) error {
	path, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return WriteConfig(conf, path)
}

// WriteConfig marshals conf to path.
func WriteConfig(conf *Config, path string) error {
	out, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0600)
}

// GetConfigFilePath returns the path of file inside the configuration
// directory, $DBGVAL_CONFIG_DIR or ~/.dbgval.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return filepath.Join(dir, file), nil
	}
	home := "."
	if usr, err := user.Current(); err == nil {
		home = usr.HomeDir
	}
	return filepath.Join(home, configDir, file), nil
}

const defaultConfig = `# Configuration file for dbgval.
# Every option is disabled, remove the leading hash mark to enable one.

# ANSI foreground color of the prompt, 34 (blue) when unset.
# prompt-color: 34

# Additional names for commands.
aliases:
  # command: ["alias1", "alias2"]

# Compare, divide and shift right as signed integers.
# signed-calc: true

# Do not print "Not debugging" and similar notices.
# silent: true

# Snapshot loaded when no --snapshot flag is given.
# snapshot: /path/to/snapshot.yml

# Alternative export matches printed for ambiguous names, 0 for all.
# max-api-matches: 0

# Module lookups kept in the cache.
# export-cache-size: 256
`
