package config

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/rileyhilliard/fleetpage/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "fleetpage.yaml"
	// GlobalConfigDir is the directory for the per-user config.
	GlobalConfigDir = ".config/fleetpage"
	// GlobalConfigFile is the per-user config file name.
	GlobalConfigFile = "config.yaml"
	// SystemConfigPath is checked last.
	SystemConfigPath = "/etc/fleetpage/config.yaml"
	// DotEnvFile is loaded from the config directory when present.
	DotEnvFile = ".env"
)

// Load reads config from the specified path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'fleetpage init' to create a config file, or specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. fleetpage.yaml in current directory
// 3. ~/.config/fleetpage/config.yaml
// 4. /etc/fleetpage/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	candidates := []string{filepath.Join(cwd, ConfigFileName)}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, GlobalConfigDir, GlobalConfigFile))
	}
	candidates = append(candidates, SystemConfigPath)

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", nil
}

// LoadFrom finds and loads the config, failing when none exists.
func LoadFrom(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return nil, "", errors.New(errors.ErrConfig,
			"No config file found",
			"Run 'fleetpage init' to create "+ConfigFileName+", or pass --config")
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// loadDotEnv loads <dir>/.env into the process environment without
// overriding variables that are already set.
func loadDotEnv(dir string) error {
	envPath := filepath.Join(dir, DotEnvFile)
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read "+envPath,
			"Check the file uses KEY=value lines")
	}
	return nil
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	setDefaults(v)

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	// viper lowercases map keys; usernames are case sensitive.
	names, err := readDisplayNames(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't read users.display_names",
			"Check that display_names maps usernames to names in "+path)
	}
	if names != nil {
		cfg.Users.DisplayNames = names
	}

	for i, host := range cfg.Hosts {
		host.Address = Expand(host.Address)
		host.User = Expand(host.User)
		host.Password = Expand(host.Password)
		host.IdentityFile = ExpandTilde(Expand(host.IdentityFile))
		cfg.Hosts[i] = host
	}

	cfg.Share.User = Expand(cfg.Share.User)
	cfg.Share.Password = Expand(cfg.Share.Password)
	cfg.Share.Address = Expand(cfg.Share.Address)
	cfg.Share.Path = ExpandTilde(Expand(cfg.Share.Path))
	cfg.Share.StagingDir = ExpandTilde(Expand(cfg.Share.StagingDir))
	cfg.SSH.KnownHosts = ExpandTilde(cfg.SSH.KnownHosts)

	return cfg, nil
}

// setDefaults registers defaults viper merges under the file's values.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("interval", def.Interval.String())
	v.SetDefault("concurrency", def.Concurrency)
	v.SetDefault("timeouts.connect", def.Timeouts.Connect.String())
	v.SetDefault("timeouts.command", def.Timeouts.Command.String())
	v.SetDefault("timeouts.host", def.Timeouts.Host.String())
	v.SetDefault("timeouts.publish", def.Timeouts.Publish.String())
	v.SetDefault("ssh.strict_host_key_checking", def.SSH.StrictHostKeyChecking)
	v.SetDefault("share.kind", def.Share.Kind)
	v.SetDefault("share.client_name", def.Share.ClientName)
	v.SetDefault("share.port", def.Share.Port)
	v.SetDefault("share.extension", def.Share.Extension)
	for _, metric := range Metrics {
		v.SetDefault("commands."+metric, def.Commands.ByMetric(metric))
	}
}

// secondsToDurationHook treats bare numbers as seconds, so "interval: 30"
// means thirty seconds rather than thirty nanoseconds.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch n := data.(type) {
		case int:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		}
		return data, nil
	}
}
