package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/satchel/pkg/satchel"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

// schemaFile mirrors schema.yaml: an ordered list of entity declarations
// with shorthand field specs.
type schemaFile struct {
	Entities []entityDecl `yaml:"entities"`
}

type entityDecl struct {
	Name   string      `yaml:"name"`
	Key    string      `yaml:"key"`
	Fields []fieldDecl `yaml:"fields"`
}

type fieldDecl struct {
	Name string `yaml:"name"`
	Spec string `yaml:"spec"`
}

// registerSchema loads schema.yaml and registers every declared entity,
// running its DDL so the tables exist. Declaration order follows the
// file, which lets foreign keys reference earlier entities.
func registerSchema(m *satchel.Manager, configDir string) error {
	path := filepath.Join(configDir, schemaFileExt)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read schema: %w", err)
	}

	var sf schemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}

	for _, decl := range sf.Entities {
		fields := make([]types.Field, 0, len(decl.Fields))
		for _, fd := range decl.Fields {
			f, err := types.ParseField(fd.Name, fd.Spec)
			if err != nil {
				return fmt.Errorf("schema entity %s: %w", decl.Name, err)
			}
			fields = append(fields, f)
		}

		// A key naming no declared field becomes an ID key field.
		var key any
		switch {
		case decl.Key == "" || decl.Key == types.RowidKey:
			key = nil
		case hasField(fields, decl.Key):
			key = decl.Key
		default:
			idf := types.ID()
			idf.Name = decl.Key
			key = idf
		}

		e, err := m.New(decl.Name, key, fields)
		if err != nil {
			return fmt.Errorf("schema: %w", err)
		}
		if err := e.Create(); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
		log.WithField("entity", e.Name()).Debug("registered entity")
	}
	return nil
}

func hasField(fields []types.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
