package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ExportFormat string

const (
	FormatYAML ExportFormat = "yaml"
	FormatJSON ExportFormat = "json"
)

// ExportOptions controls configuration export.
type ExportOptions struct {
	Format      ExportFormat
	MaskSecrets bool
	PrettyPrint bool
}

// ConfigExporter renders the active configuration for diagnostics and
// the stats endpoint, masking secret-bearing fields.
type ConfigExporter struct {
	secretFields []string
}

// NewConfigExporter creates an exporter with the default secret field
// list.
func NewConfigExporter() *ConfigExporter {
	return &ConfigExporter{
		secretFields: []string{
			"password",
			"token",
			"secret",
			"key",
			"credential",
		},
	}
}

// ExportConfig serializes config in the requested format.
func (ce *ConfigExporter) ExportConfig(config *GuardServiceConfig, options ExportOptions) ([]byte, error) {
	if config == nil {
		return nil, fmt.Errorf("config is nil")
	}

	// Round-trip through a generic map so masking does not depend on the
	// struct shape.
	raw, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}

	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	if options.MaskSecrets {
		ce.maskTree(tree)
	}

	switch options.Format {
	case FormatJSON:
		if options.PrettyPrint {
			return json.MarshalIndent(tree, "", "  ")
		}
		return json.Marshal(tree)
	case FormatYAML, "":
		return yaml.Marshal(tree)
	default:
		return nil, fmt.Errorf("unsupported export format %q", options.Format)
	}
}

// ExportToFile writes the rendered configuration to path.
func (ce *ConfigExporter) ExportToFile(config *GuardServiceConfig, path string, options ExportOptions) error {
	data, err := ce.ExportConfig(config, options)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}
	return nil
}

func (ce *ConfigExporter) maskTree(tree map[string]interface{}) {
	for key, value := range tree {
		switch v := value.(type) {
		case map[string]interface{}:
			ce.maskTree(v)
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					ce.maskTree(m)
				}
			}
		case string:
			if v != "" && ce.isSecretField(key) {
				tree[key] = "***"
			}
		}
	}
}

func (ce *ConfigExporter) isSecretField(field string) bool {
	lower := strings.ToLower(field)
	for _, secret := range ce.secretFields {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}
