package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetpage/internal/errors"
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but fleetpage only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade fleetpage or lower the version field.")
	}

	if cfg.Interval < time.Second {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Refresh interval must be at least 1s, got %s", cfg.Interval),
			"Set 'interval' to something like 30s.")
	}

	if cfg.Concurrency < 1 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Concurrency must be at least 1, got %d", cfg.Concurrency),
			"Use 1 to poll hosts one at a time.")
	}

	if err := validateTimeouts(cfg.Timeouts); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'timeouts' section in fleetpage.yaml.")
	}

	if len(cfg.Hosts) == 0 {
		return errors.New(errors.ErrConfig,
			"No hosts configured",
			"Add a host with 'fleetpage host add' or edit the 'hosts' list.")
	}

	seen := make(map[string]bool, len(cfg.Hosts))
	for i, host := range cfg.Hosts {
		if err := validateHost(i, host); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'hosts' list in fleetpage.yaml.")
		}
		if seen[host.Name] {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Host name '%s' is used more than once", host.Name),
				"Each host publishes to <name>-status.<ext>, so names must be unique.")
		}
		seen[host.Name] = true
	}

	if err := validateShare(cfg.Share); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'share' section in fleetpage.yaml.")
	}

	for _, metric := range Metrics {
		if strings.TrimSpace(cfg.Commands.ByMetric(metric)) == "" {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Command for '%s' is empty", metric),
				"Remove the entry to use the default, or set a shell command.")
		}
	}

	return nil
}

func validateTimeouts(t TimeoutConfig) error {
	checks := []struct {
		name  string
		value time.Duration
	}{
		{"connect", t.Connect},
		{"command", t.Command},
		{"host", t.Host},
		{"publish", t.Publish},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return fmt.Errorf("timeouts.%s must be positive", c.name)
		}
	}
	return nil
}

// ValidateHost checks a single host entry, e.g. before appending it to a file.
func ValidateHost(host Host) error {
	if err := validateHost(0, host); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
			"Host names become file names: no spaces or slashes.")
	}
	return nil
}

// validateHost checks a single host entry.
func validateHost(index int, host Host) error {
	if strings.TrimSpace(host.Name) == "" {
		return fmt.Errorf("host #%d has no name", index+1)
	}
	if strings.ContainsAny(host.Name, `/\`) {
		return fmt.Errorf("host name '%s' contains a path separator", host.Name)
	}
	if strings.ContainsAny(host.Name, " \t\n") {
		return fmt.Errorf("host name '%s' contains whitespace", host.Name)
	}
	if strings.TrimSpace(host.Address) == "" {
		return fmt.Errorf("host '%s' has no address", host.Name)
	}
	return nil
}

func validateShare(s ShareConfig) error {
	if strings.TrimSpace(s.Extension) == "" {
		return fmt.Errorf("share.extension is empty")
	}
	if strings.ContainsAny(s.Extension, `/\.`) {
		return fmt.Errorf("share.extension '%s' should be a bare extension like 'html'", s.Extension)
	}

	switch s.Kind {
	case ShareKindSMB:
		if s.Address == "" {
			return fmt.Errorf("share.address is required for smb shares")
		}
		if s.Name == "" {
			return fmt.Errorf("share.name is required for smb shares")
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("share.port %d is out of range", s.Port)
		}
	case ShareKindDir:
		if s.Path == "" {
			return fmt.Errorf("share.path is required for dir shares")
		}
	default:
		return fmt.Errorf("share.kind must be '%s' or '%s', got '%s'", ShareKindSMB, ShareKindDir, s.Kind)
	}
	return nil
}
