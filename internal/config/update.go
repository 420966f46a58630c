package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// document mirrors Config with durations spelled as strings so written
// files read "30s" instead of nanosecond counts.
type document struct {
	Version     int               `yaml:"version"`
	Interval    string            `yaml:"interval"`
	Concurrency int               `yaml:"concurrency"`
	Timeouts    map[string]string `yaml:"timeouts"`
	SSH         SSHConfig         `yaml:"ssh"`
	Share       ShareConfig       `yaml:"share"`
	Users       UsersConfig       `yaml:"users"`
	Commands    CommandsConfig    `yaml:"commands"`
	Hosts       []Host            `yaml:"hosts"`
}

// Marshal renders cfg as a YAML config file.
func Marshal(cfg *Config) ([]byte, error) {
	doc := document{
		Version:     cfg.Version,
		Interval:    cfg.Interval.String(),
		Concurrency: cfg.Concurrency,
		Timeouts: map[string]string{
			"connect": cfg.Timeouts.Connect.String(),
			"command": cfg.Timeouts.Command.String(),
			"host":    cfg.Timeouts.Host.String(),
			"publish": cfg.Timeouts.Publish.String(),
		},
		SSH:      cfg.SSH,
		Share:    cfg.Share,
		Users:    cfg.Users,
		Commands: cfg.Commands,
		Hosts:    cfg.Hosts,
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return []byte(buf.String()), nil
}

// Write saves cfg to configPath. Secrets should be ${VAR} references, so the
// file is written owner-readable only.
func Write(configPath string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// AddHost appends a host entry to the config file at configPath.
// It preserves the existing YAML structure and comments.
// Returns an error if a host with the same name already exists.
func AddHost(configPath string, host Host) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid YAML document structure")
	}

	docNode := root.Content[0]
	if docNode.Kind != yaml.MappingNode {
		return fmt.Errorf("expected mapping at document root")
	}

	hostsNode := findMapValue(docNode, "hosts")
	if hostsNode == nil || (hostsNode.Kind == yaml.ScalarNode && hostsNode.Tag == "!!null") {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		if hostsNode == nil {
			docNode.Content = append(docNode.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "hosts"}, seq)
		} else {
			*hostsNode = *seq
		}
		hostsNode = findMapValue(docNode, "hosts")
	}
	if hostsNode.Kind != yaml.SequenceNode {
		return fmt.Errorf("'hosts' must be a list")
	}

	for _, item := range hostsNode.Content {
		if nameNode := findMapValue(item, "name"); nameNode != nil && nameNode.Value == host.Name {
			return fmt.Errorf("host '%s' already exists in config", host.Name)
		}
	}

	var hostNode yaml.Node
	if err := hostNode.Encode(host); err != nil {
		return fmt.Errorf("failed to encode host: %w", err)
	}
	dropEmptyScalars(&hostNode)
	hostsNode.Content = append(hostsNode.Content, &hostNode)

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.WriteFile(configPath, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// readDisplayNames reads users.display_names straight from the YAML so key
// case survives. Returns nil when the section is absent.
func readDisplayNames(configPath string) (map[string]string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw struct {
		Users struct {
			DisplayNames map[string]string `yaml:"display_names"`
		} `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return raw.Users.DisplayNames, nil
}

// findMapValue finds a value in a mapping node by key name.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(node.Content)-1; i += 2 {
		keyNode := node.Content[i]
		valueNode := node.Content[i+1]

		if keyNode.Kind == yaml.ScalarNode && keyNode.Value == key {
			return valueNode
		}
	}

	return nil
}

// dropEmptyScalars removes key/value pairs whose value is an empty string.
func dropEmptyScalars(node *yaml.Node) {
	if node.Kind != yaml.MappingNode {
		return
	}
	kept := node.Content[:0]
	for i := 0; i < len(node.Content)-1; i += 2 {
		v := node.Content[i+1]
		if v.Kind == yaml.ScalarNode && v.Value == "" && v.Tag == "!!str" {
			continue
		}
		kept = append(kept, node.Content[i], v)
	}
	node.Content = kept
}
