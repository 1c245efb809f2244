package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/satchel/pkg/satchel"
	"github.com/mesh-intelligence/satchel/pkg/types"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity> <key>",
		Short: "Fetch one row by primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return exitError(cmd, "get: %s", err)
			}
			defer m.Close()

			e, err := m.Get(args[0])
			if err != nil {
				return exitError(cmd, "get: %s", err)
			}
			r, err := e.Get(args[1])
			if err != nil {
				return exitError(cmd, "get: %s", err)
			}
			if r == nil {
				return exitError(cmd, "get: %s %q not found", e.Name(), args[1])
			}
			return printRow(cmd, r)
		},
	}
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <entity> <key> field=value ...",
		Short: "Create or update a row",
		Long: "Update the named row's fields, creating the row when it does not\n" +
			"exist. Pass \"-\" as the key to create a row with a generated UUID\n" +
			"key. All changes flush atomically on exit.",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return exitError(cmd, "set: %s", err)
			}
			defer m.Close()

			e, err := m.Get(args[0])
			if err != nil {
				return exitError(cmd, "set: %s", err)
			}

			values := make(map[string]any)
			for _, pair := range args[2:] {
				name, value, found := strings.Cut(pair, "=")
				if !found {
					return exitError(cmd, "set: %q is not field=value", pair)
				}
				values[name] = value
			}

			key := args[1]
			if key == "-" {
				key = uuid.Must(uuid.NewV7()).String()
			}

			var r *satchel.Row
			if e.Key() != types.RowidKey {
				r, err = e.Get(key)
				if err != nil {
					return exitError(cmd, "set: %s", err)
				}
			}
			if r == nil {
				if e.Key() != types.RowidKey {
					values[e.Key()] = key
				}
				r, err = e.New(values)
				if err != nil {
					return exitError(cmd, "set: %s", err)
				}
			} else {
				for name, v := range values {
					if err := r.Set(name, v); err != nil {
						return exitError(cmd, "set: %s", err)
					}
				}
			}

			if err := m.Flush(); err != nil {
				return exitError(cmd, "set: %s", err)
			}
			return printRow(cmd, r)
		},
	}
}

func newDelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <entity> <key>",
		Short: "Delete a row by primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return exitError(cmd, "del: %s", err)
			}
			defer m.Close()

			e, err := m.Get(args[0])
			if err != nil {
				return exitError(cmd, "del: %s", err)
			}
			r, err := e.Get(args[1])
			if err != nil {
				return exitError(cmd, "del: %s", err)
			}
			if r == nil {
				return exitError(cmd, "del: %s %q not found", e.Name(), args[1])
			}
			if err := r.Delete(); err != nil {
				return exitError(cmd, "del: %s", err)
			}
			if err := m.Flush(); err != nil {
				return exitError(cmd, "del: %s", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %q\n", e.Name(), args[1])
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <entity> [expression...]",
		Short: "List rows, optionally filtered by a query expression",
		Long: "List rows of an entity. Expressions use the structured query form,\n" +
			"for example: satchel list task \"state = 'open'\" \"count > 3\".",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := openManager()
			if err != nil {
				return exitError(cmd, "list: %s", err)
			}
			defer m.Close()

			e, err := m.Get(args[0])
			if err != nil {
				return exitError(cmd, "list: %s", err)
			}

			exprs := make([]any, 0, len(args)-1)
			for _, a := range args[1:] {
				exprs = append(exprs, a)
			}
			if len(exprs) == 0 {
				exprs = append(exprs, satchel.IsNotNull(satchel.Const(1)))
			}
			q, err := e.Query(exprs...)
			if err != nil {
				return exitError(cmd, "list: %s", err)
			}
			log.WithField("sql", q.SQL()).Debug("running query")

			rows, err := q.Run(nil)
			if err != nil {
				return exitError(cmd, "list: %s", err)
			}

			if flags.jsonMode {
				out := make([]map[string]any, 0, len(rows))
				for _, r := range rows {
					snap, err := rowSnapshot(r)
					if err != nil {
						return exitError(cmd, "list: %s", err)
					}
					out = append(out, snap)
				}
				return printJSON(cmd, out)
			}
			for _, r := range rows {
				if err := printRow(cmd, r); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d row(s)\n", len(rows))
			return nil
		},
	}
}
