package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Share kinds.
const (
	ShareKindSMB = "smb"
	ShareKindDir = "dir"
)

// Metric names, in the order commands are run.
const (
	MetricGPUStatus     = "gpu_status"
	MetricOSVersion     = "os_version"
	MetricCPUHardware   = "cpu_hw"
	MetricResourceStats = "resource_stats"
	MetricUptime        = "uptime"
	MetricTopListing    = "top_listing"
)

// Metrics lists every metric name in collection order.
var Metrics = []string{
	MetricGPUStatus,
	MetricOSVersion,
	MetricResourceStats,
	MetricUptime,
	MetricTopListing,
	MetricCPUHardware,
}

// Config represents the complete fleetpage.yaml configuration file.
type Config struct {
	Version     int            `yaml:"version" mapstructure:"version"`
	Interval    time.Duration  `yaml:"interval" mapstructure:"interval"`
	Concurrency int            `yaml:"concurrency" mapstructure:"concurrency"`
	Timeouts    TimeoutConfig  `yaml:"timeouts" mapstructure:"timeouts"`
	SSH         SSHConfig      `yaml:"ssh" mapstructure:"ssh"`
	Share       ShareConfig    `yaml:"share" mapstructure:"share"`
	Users       UsersConfig    `yaml:"users" mapstructure:"users"`
	Commands    CommandsConfig `yaml:"commands" mapstructure:"commands"`
	Hosts       []Host         `yaml:"hosts" mapstructure:"hosts"`
}

// Host defines a monitored machine and its credentials.
type Host struct {
	// Name identifies the host on its status page and in the published file name.
	Name string `yaml:"name" mapstructure:"name"`

	// Address is a hostname, IP, host:port or ~/.ssh/config alias.
	Address string `yaml:"address" mapstructure:"address"`

	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`

	// IdentityFile is an optional private key tried before the password.
	IdentityFile string `yaml:"identity_file" mapstructure:"identity_file"`
}

// TimeoutConfig bounds every network-bound step of a cycle.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect" mapstructure:"connect"`
	Command time.Duration `yaml:"command" mapstructure:"command"`
	Host    time.Duration `yaml:"host" mapstructure:"host"`
	Publish time.Duration `yaml:"publish" mapstructure:"publish"`
}

// SSHConfig controls host key verification.
type SSHConfig struct {
	StrictHostKeyChecking bool   `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
	KnownHosts            string `yaml:"known_hosts" mapstructure:"known_hosts"`
}

// ShareConfig describes where rendered pages are published.
type ShareConfig struct {
	// Kind is "smb" (network share) or "dir" (local directory).
	Kind string `yaml:"kind" mapstructure:"kind"`

	User       string `yaml:"user" mapstructure:"user"`
	Password   string `yaml:"password" mapstructure:"password"`
	ClientName string `yaml:"client_name" mapstructure:"client_name"`
	ServerName string `yaml:"server_name" mapstructure:"server_name"`
	Address    string `yaml:"address" mapstructure:"address"`
	Port       int    `yaml:"port" mapstructure:"port"`
	Domain     string `yaml:"domain" mapstructure:"domain"`

	// Name is the SMB share name.
	Name string `yaml:"name" mapstructure:"name"`

	// Path is the target directory for the dir kind.
	Path string `yaml:"path" mapstructure:"path"`

	// Extension of published files; "html" selects the HTML encoder.
	Extension string `yaml:"extension" mapstructure:"extension"`

	// StagingDir holds pages between rendering and transfer.
	StagingDir string `yaml:"staging_dir" mapstructure:"staging_dir"`
}

// UsersConfig is the allow-list used to pick the heaviest user.
type UsersConfig struct {
	Known        []string          `yaml:"known" mapstructure:"known"`
	DisplayNames map[string]string `yaml:"display_names" mapstructure:"display_names"`
}

// CommandsConfig holds the shell pipeline run for each metric.
type CommandsConfig struct {
	GPUStatus     string `yaml:"gpu_status" mapstructure:"gpu_status"`
	OSVersion     string `yaml:"os_version" mapstructure:"os_version"`
	CPUHardware   string `yaml:"cpu_hw" mapstructure:"cpu_hw"`
	ResourceStats string `yaml:"resource_stats" mapstructure:"resource_stats"`
	Uptime        string `yaml:"uptime" mapstructure:"uptime"`
	TopListing    string `yaml:"top_listing" mapstructure:"top_listing"`
}

// ByMetric returns the command configured for a metric name.
func (c CommandsConfig) ByMetric(metric string) string {
	switch metric {
	case MetricGPUStatus:
		return c.GPUStatus
	case MetricOSVersion:
		return c.OSVersion
	case MetricCPUHardware:
		return c.CPUHardware
	case MetricResourceStats:
		return c.ResourceStats
	case MetricUptime:
		return c.Uptime
	case MetricTopListing:
		return c.TopListing
	}
	return ""
}

// Default commands.
const (
	DefaultGPUStatusCommand     = "nvidia-smi"
	DefaultOSVersionCommand     = `hostnamectl | awk "NR==6 || NR==7" | sed -e "s/^[[:space:]]*//"`
	DefaultCPUHardwareCommand   = `grep 'model name' /proc/cpuinfo | uniq | cut -d':' -f2- | xargs`
	DefaultResourceStatsCommand = `dstat -c -d -m -l -n --nocolor 1 2 | awk "NR==1 || NR==2 || NR==4"`
	DefaultUptimeCommand        = "uptime -p"
	// 8 header rows plus 30 process rows, sorted by CPU.
	DefaultTopListingCommand = "top -b -n 1 | head -n 38"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:     CurrentConfigVersion,
		Interval:    30 * time.Second,
		Concurrency: 1,
		Timeouts: TimeoutConfig{
			Connect: 10 * time.Second,
			Command: 30 * time.Second,
			Host:    2 * time.Minute,
			Publish: 30 * time.Second,
		},
		SSH: SSHConfig{
			StrictHostKeyChecking: true,
		},
		Share: ShareConfig{
			Kind:       ShareKindSMB,
			ClientName: "fleetpage",
			Port:       445,
			Extension:  "html",
		},
		Users: UsersConfig{
			Known:        []string{},
			DisplayNames: make(map[string]string),
		},
		Commands: CommandsConfig{
			GPUStatus:     DefaultGPUStatusCommand,
			OSVersion:     DefaultOSVersionCommand,
			CPUHardware:   DefaultCPUHardwareCommand,
			ResourceStats: DefaultResourceStatsCommand,
			Uptime:        DefaultUptimeCommand,
			TopListing:    DefaultTopListingCommand,
		},
		Hosts: []Host{},
	}
}

// HostByName returns the host with the given name.
func (c *Config) HostByName(name string) (Host, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return Host{}, false
}

// HostNames returns host names in configuration order.
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		names = append(names, h.Name)
	}
	return names
}
