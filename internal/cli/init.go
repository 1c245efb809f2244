package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/satchel/internal/paths"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the satchel configuration and database",
		Long: "Create the configuration directory with default config.yaml and\n" +
			"schema.yaml files, then open the database and run the DDL for any\n" +
			"declared entities.",
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return exitError(cmd, "resolve config dir: %s", err)
	}

	m, err := openManager()
	if err != nil {
		return exitError(cmd, "init: %s", err)
	}
	defer m.Close()

	count := 0
	for range m.Entities() {
		count++
	}
	fmt.Fprintf(cmd.OutOrStdout(), "initialized %s (%d entities)\n", configDir, count)
	return nil
}
