package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	schemaFileExt  = "schema.yaml"

	cfgKeyDatabase = "database"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# Satchel CLI configuration

# Database file (optional; overridable by --db flag).
# database: satchel.db
`

// defaultSchemaYAML is written to schema.yaml on first run as a worked
// example of the declaration format.
const defaultSchemaYAML = `# Satchel schema declarations.
#
# Field specs are "<kind or entity><flags>" with kinds text, numeric,
# int, real, blob, id, json, and flags ! (required), ? (optional),
# * (virtual foreign key).
entities: []
#  - name: user
#    key: name
#    fields:
#      - {name: name, spec: text}
#      - {name: profile, spec: json}
#  - name: task
#    key: id
#    fields:
#      - {name: title, spec: text!}
#      - {name: owner, spec: user!}
`

// loadConfig reads config.yaml from the config directory using Viper,
// creating the directory and default files on first run. A missing
// config.yaml is not an error.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureFile(filepath.Join(configDir, configFileExt), defaultConfigYAML); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}
	if err := ensureFile(filepath.Join(configDir, schemaFileExt), defaultSchemaYAML); err != nil {
		return nil, fmt.Errorf("ensure default schema: %w", err)
	}

	v := viper.New()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// ensureFile writes content to path unless the file already exists.
func ensureFile(path, content string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
