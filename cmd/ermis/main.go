package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	ermis "github.com/bitloops/ermis/sdk/golang"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.ermis/config.toml.
type Config struct {
	Default ermis.Options `toml:"default" yaml:"default"`
	Stream  ConfigStream  `toml:"stream" yaml:"stream"`
}

// ConfigStream holds connection tuning.
type ConfigStream struct {
	Transport        string `toml:"transport,omitempty" yaml:"transport,omitempty"`
	Timeout          string `toml:"timeout,omitempty" yaml:"timeout,omitempty"`
	ReconnectFloor   string `toml:"reconnect_floor,omitempty" yaml:"reconnect_floor,omitempty"`
	ReconnectCeiling string `toml:"reconnect_ceiling,omitempty" yaml:"reconnect_ceiling,omitempty"`
}

const (
	envPublicKey     = "ERMIS_PUBLIC_KEY"
	envApplicationID = "ERMIS_APPLICATION_ID"
)

var (
	configFile string
	debug      bool
)

// ============================================================================
// Config helpers
// ============================================================================

// configPath returns the config file in use: --config if given, otherwise
// ~/.ermis/config.toml, creating the directory if needed.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ermis")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return filepath.Join(dir, "config.toml"), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// loadConfig reads the config file and applies environment overrides.
// A missing file yields a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func readConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envPublicKey); v != "" {
		cfg.Default.PublicKey = v
	}
	if v := os.Getenv(envApplicationID); v != "" {
		cfg.Default.ApplicationID = v
	}
}

// saveConfig writes the config back to disk in the format its extension
// selects.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	return writeConfig(path, cfg)
}

func writeConfig(path string, cfg *Config) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.public_key").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.public_key)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "application_id":
			cfg.Default.ApplicationID = value
		case "public_key":
			cfg.Default.PublicKey = value
		case "host":
			cfg.Default.Host = value
		case "gw_host":
			cfg.Default.GatewayHost = value
		case "ssl":
			ssl, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("ssl must be true or false: %w", err)
			}
			cfg.Default.SSL = ssl
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "stream":
		switch field {
		case "transport":
			var t transportFlag
			if err := t.Set(value); err != nil {
				return err
			}
			cfg.Stream.Transport = value
		case "timeout", "reconnect_floor", "reconnect_ceiling":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("%s must be a duration such as 30s: %w", field, err)
			}
			switch field {
			case "timeout":
				cfg.Stream.Timeout = value
			case "reconnect_floor":
				cfg.Stream.ReconnectFloor = value
			default:
				cfg.Stream.ReconnectCeiling = value
			}
		default:
			return fmt.Errorf("unknown field %q in section [stream]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, stream)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:           "ermis",
	Short:         "Ermis events CLI",
	Long:          "Command-line interface for Ermis event subscriptions.\nManage configuration, check credentials, and follow topics.",
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.ermis/config.toml; .yaml and .yml are read as YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log connection activity to stderr")
}

func newLogger() *zap.Logger {
	if debug {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
