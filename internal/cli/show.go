package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/satchel/pkg/satchel"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List registered entities and their fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return exitError(cmd, "tables: %s", err)
			}
			defer m.Close()

			if flags.jsonMode {
				out := make([]map[string]any, 0)
				for e := range m.Entities() {
					out = append(out, map[string]any{
						"name":   e.Name(),
						"key":    e.Key(),
						"fields": e.Fields(),
					})
				}
				return printJSON(cmd, out)
			}
			for e := range m.Entities() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (key: %s)\n", e.Name(), e.Key())
				for _, name := range e.Fields() {
					f, _ := e.Field(name)
					fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %s%s\n", name, f.Kind, fieldFlags(f))
				}
			}
			return nil
		},
	}
}

func newSQLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sql",
		Short: "Print the generated CREATE TABLE statements",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return exitError(cmd, "sql: %s", err)
			}
			defer m.Close()

			for e := range m.Entities() {
				ddl, err := e.CreateSQL()
				if err != nil {
					return exitError(cmd, "sql: %s", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), ddl+";")
			}
			return nil
		},
	}
}

func fieldFlags(f types.Field) string {
	var parts []string
	if f.Kind == types.KindEntity {
		parts = append(parts, "-> "+f.Ref)
	}
	if f.Required {
		parts = append(parts, "required")
	}
	if f.Unique {
		parts = append(parts, "unique")
	}
	if f.Virtual {
		parts = append(parts, "virtual")
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// printJSON renders v as indented JSON on stdout.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return exitError(cmd, "encode output: %s", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// rowSnapshot renders a row's fields for output.
func rowSnapshot(r *satchel.Row) (map[string]any, error) {
	out := make(map[string]any)
	for _, name := range r.Entity().Fields() {
		f, _ := r.Entity().Field(name)
		if f.Virtual {
			continue
		}
		v, err := r.Raw(name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	out["rowid"] = r.Rowid()
	return out, nil
}

// printRow renders one row in the selected output mode.
func printRow(cmd *cobra.Command, r *satchel.Row) error {
	snap, err := rowSnapshot(r)
	if err != nil {
		return exitError(cmd, "render row: %s", err)
	}
	if flags.jsonMode {
		return printJSON(cmd, snap)
	}
	for _, name := range r.Entity().Fields() {
		if v, ok := snap[name]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %v\n", name, v)
		}
	}
	return nil
}
